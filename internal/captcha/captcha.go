// Package captcha issues and verifies captcha challenges over keyed slots.
// Each channel is a distinct cookie namespace, so a user can hold several
// independent challenges at once (report form, bad-report form, shelter
// forms). Image generation is delegated to github.com/dchest/captcha.
package captcha

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dchest/captcha"

	"github.com/neurowhai/firemap/internal/util"
)

var cookieNames = [...]string{"captcha_0", "captcha_1", "captcha_2", "captcha_3", "captcha_4"}

const (
	maxEntries   = 512
	validFor     = 5 * time.Minute
	idLength     = 32
	answerDigits = 6
)

type entry struct {
	answer  string
	created time.Time
}

// Service holds outstanding captcha answers keyed by challenge id.
type Service struct {
	mu      sync.Mutex
	answers map[string]entry
	now     func() time.Time
}

// NewService creates an empty captcha service.
func NewService() *Service {
	return &Service{
		answers: make(map[string]entry),
		now:     time.Now,
	}
}

func cookieName(channel int) string {
	if channel < 0 || channel >= len(cookieNames) {
		channel = 0
	}
	return cookieNames[channel]
}

// Issue generates a challenge on the given channel, stores the answer,
// writes the channel cookie and returns the PNG image.
func (s *Service) Issue(w http.ResponseWriter, channel int) ([]byte, error) {
	digits := captcha.RandomDigits(answerDigits)

	answer := make([]byte, len(digits))
	for i, d := range digits {
		answer[i] = '0' + d
	}

	var id string
	s.mu.Lock()
	for {
		id = util.RandID(idLength)
		if _, taken := s.answers[id]; !taken {
			break
		}
	}
	s.answers[id] = entry{answer: string(answer), created: s.now()}

	// Soft cap: on overflow drop entries past their validity window.
	if len(s.answers) > maxEntries {
		cutoff := s.now().Add(-validFor)
		for k, v := range s.answers {
			if v.created.Before(cutoff) {
				delete(s.answers, k)
			}
		}
	}
	s.mu.Unlock()

	img := captcha.NewImage(id, digits, captcha.StdWidth, captcha.StdHeight)
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		s.mu.Lock()
		delete(s.answers, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("encode captcha image: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName(channel),
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})

	return buf.Bytes(), nil
}

// VerifyAndRemove checks the user answer against the challenge referenced by
// the channel cookie. The stored answer and the cookie are consumed whether
// or not the answer matches. A missing cookie fails the check.
func (s *Service) VerifyAndRemove(w http.ResponseWriter, r *http.Request, channel int, userAnswer string) bool {
	name := cookieName(channel)

	cookie, err := r.Cookie(name)
	if err != nil {
		return false
	}

	s.mu.Lock()
	stored, ok := s.answers[cookie.Value]
	delete(s.answers, cookie.Value)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	return ok && stored.answer == userAnswer
}

// pending reports the number of outstanding answers. Test hook.
func (s *Service) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
