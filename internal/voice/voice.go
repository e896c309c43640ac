// Package voice matches speech transcripts against SOS trigger
// phrases. Transcription itself is external; the detector only sees
// text batches and decides whether to fire.
package voice

import (
	"strings"
	"sync"
	"time"
)

// The phrases are matched as case-insensitive substrings anywhere in
// an utterance batch.
var triggerPhrases = []string{"help me", "helpme", "i need help"}

// Detector fires OnTrigger when a transcript contains a trigger
// phrase, at most once per cooldown window per identity. The cooldown
// deduplicates re-fires from repeated utterances.
type Detector struct {
	Cooldown  time.Duration
	OnTrigger func(identity, transcript string)

	mu        sync.Mutex
	lastFired map[string]time.Time
	now       func() time.Time
}

func NewDetector(cooldown time.Duration, onTrigger func(identity, transcript string)) *Detector {
	return &Detector{
		Cooldown:  cooldown,
		OnTrigger: onTrigger,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Matches reports whether the transcript contains a trigger phrase.
func Matches(transcript string) bool {
	t := strings.ToLower(transcript)
	for _, p := range triggerPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// Feed processes one transcript batch for an identity and returns
// whether the SOS callback fired.
func (d *Detector) Feed(identity, transcript string) bool {
	if !Matches(transcript) {
		return false
	}
	now := d.now()
	d.mu.Lock()
	if last, ok := d.lastFired[identity]; ok && now.Sub(last) < d.Cooldown {
		d.mu.Unlock()
		return false
	}
	d.lastFired[identity] = now
	d.mu.Unlock()

	if d.OnTrigger != nil {
		d.OnTrigger(identity, transcript)
	}
	return true
}
