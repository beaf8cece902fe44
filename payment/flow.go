package payment

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/holodroid23-tech/pos-hardware/adapter"
	"github.com/holodroid23-tech/pos-hardware/device"
)

// Step is a stage of the payment flow. Transitions are strictly
// linear; the only way back is a full retry from StepInitializing.
type Step string

const (
	StepInitializing Step = "initializing"
	StepDiscovering  Step = "discovering"
	StepConnecting   Step = "connecting"
	StepProcessing   Step = "processing"
	StepSuccess      Step = "success"
	StepError        Step = "error"
)

// Transition reports a step change with a user-facing message.
type Transition struct {
	Step    Step
	Message string
}

const defaultSuccessDelay = 1500 * time.Millisecond

// Flow discovers, connects and collects a card payment on a terminal
// device. One session at a time.
type Flow struct {
	discovery *adapter.Discovery
	manager   *adapter.Manager
	backend   TerminalBackend
	logger    *log.Logger

	// Simulated switches the backend out of real-hardware mode.
	Simulated bool

	// DemoMode reinterprets a declined card as success. Demo rigs
	// only; never enable for production use.
	DemoMode bool

	mu           sync.Mutex
	step         Step
	message      string
	active       bool
	cancelled    bool
	lastAmount   float64
	onTransition func(Transition)
	successDelay time.Duration
}

// NewFlow creates a payment flow over the given discovery, connection
// manager and terminal backend.
func NewFlow(discovery *adapter.Discovery, manager *adapter.Manager, backend TerminalBackend) *Flow {
	return &Flow{
		discovery:    discovery,
		manager:      manager,
		backend:      backend,
		step:         StepInitializing,
		successDelay: defaultSuccessDelay,
		logger:       log.New(os.Stdout, "[PAYMENT] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetLogger replaces the default logger.
func (f *Flow) SetLogger(l *log.Logger) { f.logger = l }

// SetSuccessDelay overrides the post-success display delay.
func (f *Flow) SetSuccessDelay(d time.Duration) { f.successDelay = d }

// OnTransition registers the observer notified on every step change
// and on intermediate processing messages.
func (f *Flow) OnTransition(fn func(Transition)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTransition = fn
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Message returns the user-facing message for the current step.
func (f *Flow) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Collect runs the whole flow for the given amount: initialize,
// discover a reader, connect it, collect the payment. Returns nil
// when the flow reaches StepSuccess.
func (f *Flow) Collect(ctx context.Context, amount float64) error {
	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return ErrSessionActive
	}
	f.active = true
	f.lastAmount = amount
	// Cancellation belongs to the session it interrupted, not the next.
	f.cancelled = false
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active = false
		f.mu.Unlock()
	}()

	return f.run(ctx, amount)
}

func (f *Flow) run(ctx context.Context, amount float64) error {
	f.setStep(StepInitializing, "")
	if err := f.backend.Initialize(f.Simulated); err != nil {
		return f.fail(err)
	}
	if f.isCancelled() {
		return f.fail(adapter.ErrDiscoveryCancelled)
	}

	f.setStep(StepDiscovering, "")
	readers, err := f.discovery.Discover(ctx, device.KindTerminal)
	if err != nil {
		return f.fail(err)
	}
	if len(readers) == 0 {
		return f.fail(ErrNoReaderDetected)
	}

	f.setStep(StepConnecting, readers[0].Name)
	if f.isCancelled() {
		return f.fail(adapter.ErrDiscoveryCancelled)
	}
	if err := f.manager.Connect(readers[0]); err != nil {
		return f.fail(err)
	}

	f.setStep(StepProcessing, "")
	err = f.backend.Collect(ctx, amount, func(status, message string) {
		f.logger.Printf("Reader status %s: %s", status, message)
		f.notify(Transition{Step: StepProcessing, Message: message})
	})
	if err != nil {
		if f.DemoMode && errors.Is(err, ErrPaymentDeclined) {
			// Demo rigs run test cards that real processors decline;
			// the demo treats that as a completed sale.
			f.logger.Println("Demo mode: declined card reinterpreted as success")
		} else {
			return f.fail(err)
		}
	}

	time.Sleep(f.successDelay)
	f.setStep(StepSuccess, "Payment approved")
	return nil
}

// Retry restarts the whole flow from initializing with the previous
// amount.
func (f *Flow) Retry(ctx context.Context) error {
	f.mu.Lock()
	amount := f.lastAmount
	f.step = StepInitializing
	f.message = ""
	f.cancelled = false
	f.mu.Unlock()
	return f.Collect(ctx, amount)
}

// Cancel aborts the flow if it has not yet started collecting.
// Allowed only in initializing, connecting and error; the hardware
// collect call cannot be interrupted once started.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.step {
	case StepInitializing, StepConnecting, StepError:
		f.cancelled = true
		return nil
	default:
		return ErrNotCancellable
	}
}

func (f *Flow) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *Flow) setStep(step Step, message string) {
	f.mu.Lock()
	f.step = step
	f.message = message
	f.mu.Unlock()
	f.notify(Transition{Step: step, Message: message})
}

func (f *Flow) notify(tr Transition) {
	f.mu.Lock()
	fn := f.onTransition
	f.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
}

// fail moves the flow to the terminal error step with a user-facing
// message and returns the original error.
func (f *Flow) fail(err error) error {
	f.logger.Printf("Payment flow failed: %v", err)
	f.setStep(StepError, userMessage(err))
	return err
}

// userMessage maps flow errors to displayable text. Rejections caused
// by a non-production build get an explanatory rewrite.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrDebugBuildRestricted):
		return "Card payments are disabled in debug builds. Install a release build to take payments."
	case errors.Is(err, ErrNoReaderDetected):
		return "No card reader detected. Check that the terminal is powered on and nearby."
	case errors.Is(err, adapter.ErrDiscoveryTimedOut):
		return "Timed out looking for a card reader."
	case errors.Is(err, adapter.ErrDiscoveryCancelled):
		return "Payment cancelled."
	case errors.Is(err, ErrPaymentDeclined):
		return "Payment declined."
	case errors.Is(err, adapter.ErrConnectionFailed):
		return "Could not connect to the card reader."
	default:
		return err.Error()
	}
}
