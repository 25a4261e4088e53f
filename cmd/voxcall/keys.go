package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"

	"github.com/MrWong99/voxcall/internal/capture"
	"github.com/MrWong99/voxcall/internal/session"
)

const helpText = `keys: space  push-to-talk (press to start, press again to send)
      a      accept    r  reject    h  hang up
      q      quit`

// controls maps key presses to session actions. A terminal reports no key
// releases, so space toggles the push-to-talk trigger. Trigger edges go out
// on triggers, which the session drains, so a stalled capture queue never
// holds up the key loop.
type controls struct {
	sess     *session.Session
	quit     context.CancelFunc
	triggers chan capture.TriggerEvent

	mu      sync.Mutex
	talking bool
	done    chan struct{}
}

func newControls(sess *session.Session, quit context.CancelFunc) *controls {
	return &controls{
		sess:     sess,
		quit:     quit,
		triggers: make(chan capture.TriggerEvent, 16),
		done:     make(chan struct{}),
	}
}

// consumeTriggers feeds trigger edges to the session until ctx is done.
func (c *controls) consumeTriggers(ctx context.Context) {
	c.sess.ConsumeTriggers(ctx, c.triggers)
}

// listen blocks until q or Ctrl+C is pressed or close is called.
func (c *controls) listen() {
	defer close(c.done)
	err := keyboard.Listen(func(key keys.Key) (stop bool, err error) {
		switch key.Code {
		case keys.CtrlC, keys.Escape:
			c.quit()
			return true, nil
		case keys.Space:
			c.toggleTalk()
		case keys.RuneKey:
			if len(key.Runes) == 0 {
				return false, nil
			}
			return c.onRune(key.Runes[0]), nil
		}
		return false, nil
	})
	if err != nil {
		slog.Warn("keyboard controls unavailable", "err", err)
	}
}

func (c *controls) onRune(r rune) (stop bool) {
	var err error
	switch r {
	case 'a':
		err = c.sess.Accept(context.Background())
	case 'r':
		err = c.sess.Reject()
	case 'h':
		c.stopTalking()
		err = c.sess.HangUp()
	case 'q':
		c.quit()
		return true
	case '?':
		fmt.Println(helpText)
	}
	if err != nil {
		fmt.Printf("\r! %v\n", err)
	}
	return false
}

func (c *controls) toggleTalk() {
	c.mu.Lock()
	c.talking = !c.talking
	talking := c.talking
	c.mu.Unlock()

	if talking {
		c.triggers <- capture.TriggerPress
		fmt.Print("\r🎙 talking… (space to send)\n")
		return
	}
	c.triggers <- capture.TriggerRelease
	fmt.Print("\r  sent\n")
}

func (c *controls) stopTalking() {
	c.mu.Lock()
	was := c.talking
	c.talking = false
	c.mu.Unlock()
	if was {
		c.triggers <- capture.TriggerRelease
	}
}

// close stops the listener so the terminal leaves raw mode.
func (c *controls) close() {
	select {
	case <-c.done:
		return
	default:
	}
	if err := keyboard.StopListener(); err != nil {
		slog.Debug("keyboard: stop listener", "err", err)
	}
	<-c.done
}
