package overlay

import (
	"log"

	"github.com/gen2brain/beeep"
)

const maxNotifyLen = 200

// Notifier raises a desktop notification for answers and errors. Idle and
// busy frames are ignored so the notification centre is not flooded.
type Notifier struct {
	Title string

	notify func(title, message string) error
}

func NewNotifier(title string) *Notifier {
	return &Notifier{
		Title: title,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (n *Notifier) Show(f Frame) error {
	if f.Tone != ToneAnswer && f.Tone != ToneError {
		return nil
	}
	if err := n.notify(n.Title, Truncate(f.Text, maxNotifyLen)); err != nil {
		log.Printf("overlay: notification failed: %v", err)
		return err
	}
	return nil
}
