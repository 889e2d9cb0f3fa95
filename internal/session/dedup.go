package session

import (
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

func guessKey(uid string) string            { return "guess:" + uid }
func unlockKey(unlock, guess string) string { return "unlock:" + unlock + ":" + guess }
func hintKey(uid string) string             { return "hint:" + uid }

// admit applies the dedup rule: an item already delivered as new in this
// session is not delivered as new again until it is revoked. Replays of old
// items always go out and count as delivered.
func (s *Session) admit(msg realtime.Message) (realtime.Message, bool) {
	switch msg.Type {
	case realtime.TypeNewGuesses, realtime.TypeOldGuesses:
		var items []realtime.GuessContent
		if err := msg.Decode(&items); err != nil {
			s.log.Warn("dropping undecodable guesses", "error", err)
			return msg, false
		}
		if msg.Type == realtime.TypeOldGuesses {
			for _, it := range items {
				s.delivered[guessKey(it.GuessUID)] = true
			}
			return msg, true
		}
		fresh := items[:0]
		for _, it := range items {
			if k := guessKey(it.GuessUID); !s.delivered[k] {
				s.delivered[k] = true
				fresh = append(fresh, it)
			}
		}
		if len(fresh) == 0 {
			return msg, false
		}
		if len(fresh) == len(items) {
			return msg, true
		}
		out, err := realtime.NewMessage(msg.Group, msg.Type, fresh)
		if err != nil {
			return msg, false
		}
		return out, true

	case realtime.TypeNewUnlock, realtime.TypeOldUnlock, realtime.TypeDeleteUnlockGuess:
		var it realtime.UnlockContent
		if err := msg.Decode(&it); err != nil {
			return msg, false
		}
		k := unlockKey(it.UnlockUID, it.GuessUID)
		switch msg.Type {
		case realtime.TypeDeleteUnlockGuess:
			delete(s.delivered, k)
		case realtime.TypeNewUnlock:
			if s.delivered[k] {
				return msg, false
			}
			s.delivered[k] = true
		default:
			s.delivered[k] = true
		}
		return msg, true

	case realtime.TypeNewHint, realtime.TypeOldHint, realtime.TypeDeleteHint:
		var it realtime.DeleteHintContent
		if err := msg.Decode(&it); err != nil {
			return msg, false
		}
		k := hintKey(it.HintUID)
		switch msg.Type {
		case realtime.TypeDeleteHint:
			delete(s.delivered, k)
		case realtime.TypeNewHint:
			if s.delivered[k] {
				return msg, false
			}
			s.delivered[k] = true
		default:
			s.delivered[k] = true
		}
		return msg, true
	}
	return msg, true
}
