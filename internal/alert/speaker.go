package alert

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
)

// ErrSpeakerClosed is returned by a queued speaker after Close
var ErrSpeakerClosed = errors.New("speaker closed")

// Speaker announces text. Implementations block until the utterance is handed off.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Flusher is implemented by speakers that can drop utterances not yet started
type Flusher interface {
	Flush() int
}

// SpeakerFunc adapts a function to the Speaker interface
type SpeakerFunc func(ctx context.Context, text string) error

// Speak calls f
func (f SpeakerFunc) Speak(ctx context.Context, text string) error {
	return f(ctx, text)
}

// LogSpeaker writes announcements to the log instead of audio
type LogSpeaker struct{}

// Speak implements Speaker
func (LogSpeaker) Speak(_ context.Context, text string) error {
	logger.Info("Speech", "Say: %q", text)
	return nil
}

// CommandSpeaker runs an external text-to-speech program per utterance.
// The text is passed as the final argument.
type CommandSpeaker struct {
	Program string
	Args    []string
}

// NewCommandSpeaker builds a speaker from a command line such as "espeak -s 160"
func NewCommandSpeaker(command string) (*CommandSpeaker, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty speech command")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return nil, errors.Wrapf(err, "speech program %s", fields[0])
	}
	return &CommandSpeaker{Program: fields[0], Args: fields[1:]}, nil
}

// Speak runs the program to completion
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), s.Args...), text)
	out, err := exec.CommandContext(ctx, s.Program, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", s.Program, strings.TrimSpace(string(out)))
	}
	return nil
}

// QueuedSpeaker hands utterances to a single worker so the caller does not
// wait for speech. Utterances are spoken one at a time in enqueue order.
// Speak blocks while the queue is full.
type QueuedSpeaker struct {
	next    Speaker
	queue   chan string
	onError func(error)

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueuedSpeaker starts the worker. onError may be nil.
func NewQueuedSpeaker(next Speaker, size int, onError func(error)) *QueuedSpeaker {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &QueuedSpeaker{
		next:    next,
		queue:   make(chan string, size),
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *QueuedSpeaker) run() {
	defer close(q.done)
	for text := range q.queue {
		if err := q.next.Speak(q.ctx, text); err != nil {
			logger.Warn("Speech", "Speech failed for %q: %v", text, err)
			if q.onError != nil {
				q.onError(err)
			}
		}
	}
}

// Speak enqueues text
func (q *QueuedSpeaker) Speak(ctx context.Context, text string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrSpeakerClosed
	}

	select {
	case q.queue <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush drops queued utterances that the worker has not picked up and
// returns how many were dropped. The utterance in flight is not interrupted.
func (q *QueuedSpeaker) Flush() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0
	}

	dropped := 0
	for {
		select {
		case <-q.queue:
			dropped++
		default:
			return dropped
		}
	}
}

// Close drains the queue and waits for the worker. Pending utterances are still spoken.
func (q *QueuedSpeaker) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	<-q.done
	q.cancel()
	return nil
}
