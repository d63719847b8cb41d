// Package capture implements the capture/preview/save state machine.
//
// The Controller owns the selected device, the facing, the preview draft and
// the recording counter. Every operation is checked against the current State
// and rejected with INVALID_STATE when not allowed. The lock guards state
// transitions only; provider and library calls happen outside it, with the
// transient states (Capturing, Finalizing, Saving) keeping them exclusive.
package capture

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/shutter/internal/device"
	"github.com/hpungsan/shutter/internal/errors"
	"github.com/hpungsan/shutter/internal/logging"
	"github.com/hpungsan/shutter/internal/media"
	"github.com/hpungsan/shutter/internal/metrics"
)

// State is the capture controller state.
type State string

const (
	StateInitializing     State = "initializing"
	StatePermissionDenied State = "permission-denied"
	StateRestricted       State = "restricted"
	StateNoDevice         State = "no-device"
	StateIdle             State = "idle"
	StateCapturing        State = "capturing"
	StateRecording        State = "recording"
	StateFinalizing       State = "finalizing"
	StatePreviewing       State = "previewing"
	StateSaving           State = "saving"
)

// Terminal reports whether no operation can leave s.
func (s State) Terminal() bool {
	return s == StateRestricted || s == StateNoDevice
}

// Library persists committed drafts. *media.Library implements it.
type Library interface {
	Commit(ctx context.Context, d media.Draft) (media.Record, error)
}

// Options configures a Controller. Zero values pick defaults.
type Options struct {
	// Facing is the initially requested facing (default back).
	Facing device.Facing

	// SwitchCooldown is the delay before a facing switch applies; switches
	// requested while one is pending are ignored.
	SwitchCooldown time.Duration

	// TickInterval is the recording counter resolution (default 1s).
	TickInterval time.Duration

	Recording device.RecordingOptions
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State          State          `json:"state"`
	Facing         device.Facing  `json:"facing"`
	Device         *device.Device `json:"device,omitempty"`
	Draft          *media.Draft   `json:"draft,omitempty"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	SwitchPending  bool           `json:"switch_pending"`
}

// Controller drives a device.Provider through capture, preview and commit.
type Controller struct {
	provider device.Provider
	library  Library
	opts     Options
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu            sync.Mutex
	state         State
	facing        device.Facing
	device        *device.Device
	draft         *media.Draft
	elapsed       int
	tickGen       int
	stopTicker    context.CancelFunc
	session       *Session
	starting      bool
	stopRequested bool
	switchTimer   *time.Timer
	closed        bool
	onChange      func(Snapshot)
}

// New returns a controller in StateInitializing. Call Initialize before use.
func New(provider device.Provider, library Library, opts Options) *Controller {
	if opts.Facing == "" {
		opts.Facing = device.FacingBack
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Controller{
		provider: provider,
		library:  library,
		opts:     opts,
		log:      logging.OrNop(opts.Logger).Named("capture"),
		metrics:  opts.Metrics,
		now:      time.Now,
		state:    StateInitializing,
		facing:   opts.Facing,
	}
}

// OnChange registers fn to receive a snapshot after every state change.
// fn is called without the controller lock held.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:          c.state,
		Facing:         c.facing,
		ElapsedSeconds: c.elapsed,
		SwitchPending:  c.switchTimer != nil,
	}
	if c.device != nil {
		d := *c.device
		s.Device = &d
	}
	if c.draft != nil {
		d := *c.draft
		s.Draft = &d
	}
	return s
}

// setStateLocked moves to next. Callers publish with unlockAndNotify.
func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.log.Debug("state change", zap.String("from", string(c.state)), zap.String("state", string(next)))
	c.state = next
	c.metrics.RecordTransition(string(next))
}

// unlockAndNotify releases the lock and publishes the resulting snapshot.
func (c *Controller) unlockAndNotify() {
	fn := c.onChange
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// restingStateLocked is where the controller goes when a draft is done with.
func (c *Controller) restingStateLocked() State {
	if c.device == nil {
		return StateNoDevice
	}
	return StateIdle
}

func (c *Controller) guardLocked(op string, allowed ...State) error {
	if c.closed {
		return errors.NewInvalidState(op, "closed")
	}
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return errors.NewInvalidState(op, string(c.state))
}

// Initialize requests authorization and selects a device.
//
// Restricted and missing-device outcomes are terminal. A denial leaves the
// controller in StatePermissionDenied, from which Initialize may be retried.
// If the permission request or device enumeration fails, the state is left
// unchanged.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked("initialize", StateInitializing, StatePermissionDenied); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	perms, err := c.provider.RequestPermissions(ctx)
	if err != nil {
		return errors.NewCaptureFailed(fmt.Errorf("request permissions: %w", err))
	}
	if st, permErr := permissionOutcome(perms); permErr != nil {
		c.mu.Lock()
		c.setStateLocked(st)
		c.unlockAndNotify()
		c.log.Info("camera permission not granted", zap.String("state", string(st)))
		return permErr
	}

	devices, err := c.provider.EnumerateDevices(ctx)
	if err != nil {
		return errors.NewCaptureFailed(fmt.Errorf("enumerate devices: %w", err))
	}

	c.mu.Lock()
	dev, ok := device.Select(devices, c.facing)
	if !ok {
		c.device = nil
		c.setStateLocked(StateNoDevice)
		c.unlockAndNotify()
		return errors.NewDeviceUnavailable()
	}
	c.device = &dev
	c.setStateLocked(StateIdle)
	c.unlockAndNotify()
	c.log.Info("camera ready", zap.String("device", dev.ID), zap.String("facing", string(dev.Facing)))
	return nil
}

// permissionOutcome maps a permission set to the state and error it implies.
// Any restricted capability wins over a denial.
func permissionOutcome(p device.PermissionSet) (State, error) {
	switch {
	case p.Restricted():
		return StateRestricted, errors.NewPermissionRestricted()
	case !p.Granted():
		return StatePermissionDenied, errors.NewPermissionDenied(p.Missing())
	default:
		return "", nil
	}
}

// revalidate re-checks authorization before touching the device. A provider
// error is wrapped with fail; a missing permission moves the controller to
// the matching permission state.
func (c *Controller) revalidate(ctx context.Context, op string, fail func(error) *errors.AppError) error {
	perms, err := c.provider.RequestPermissions(ctx)
	if err != nil {
		return fail(fmt.Errorf("%s: request permissions: %w", op, err))
	}
	st, permErr := permissionOutcome(perms)
	if permErr == nil {
		return nil
	}
	c.mu.Lock()
	c.setStateLocked(st)
	c.unlockAndNotify()
	return permErr
}

// CapturePhoto takes a still and moves to StatePreviewing with the result.
func (c *Controller) CapturePhoto(ctx context.Context) (media.Draft, error) {
	c.mu.Lock()
	if err := c.guardLocked("capture photo", StateIdle); err != nil {
		c.mu.Unlock()
		return media.Draft{}, err
	}
	if c.switchTimer != nil {
		c.mu.Unlock()
		return media.Draft{}, errors.NewInvalidState("capture photo", "switching camera")
	}
	dev := *c.device
	c.setStateLocked(StateCapturing)
	c.unlockAndNotify()

	if err := c.revalidate(ctx, "capture photo", errors.NewCaptureFailed); err != nil {
		c.backToIdleIf(StateCapturing)
		c.metrics.RecordCapture(string(media.KindPhoto), metrics.CaptureFailed)
		return media.Draft{}, err
	}

	path, err := c.provider.CapturePhoto(ctx, dev)
	if err != nil {
		c.backToIdleIf(StateCapturing)
		c.metrics.RecordCapture(string(media.KindPhoto), metrics.CaptureFailed)
		c.log.Warn("photo capture failed", zap.Error(err))
		return media.Draft{}, errors.NewCaptureFailed(err)
	}

	draft := media.Draft{Path: path, Kind: media.KindPhoto}
	c.mu.Lock()
	c.draft = &draft
	c.setStateLocked(StatePreviewing)
	c.unlockAndNotify()
	c.log.Info("photo captured", zap.String("path", path))
	return draft, nil
}

// backToIdleIf returns to StateIdle only if the controller is still in from.
func (c *Controller) backToIdleIf(from State) {
	c.mu.Lock()
	if c.state == from {
		c.setStateLocked(StateIdle)
	}
	c.unlockAndNotify()
}

// ToggleRecording starts a recording from StateIdle or stops the active one.
//
// The controller enters StateRecording before the device starts, so a second
// call always means stop. Both calls return the same Session; its outcome
// moves the controller to StatePreviewing or back to StateIdle.
func (c *Controller) ToggleRecording(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if !c.closed && c.state == StateRecording {
		return c.stopLocked(ctx)
	}
	if err := c.guardLocked("toggle recording", StateIdle); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.switchTimer != nil {
		c.mu.Unlock()
		return nil, errors.NewInvalidState("toggle recording", "switching camera")
	}

	dev := *c.device
	s := newSession(c.now())
	c.session = s
	c.starting = true
	c.stopRequested = false
	c.elapsed = 0
	c.setStateLocked(StateRecording)
	c.unlockAndNotify()

	if err := c.revalidate(ctx, "start recording", errors.NewRecordingFailed); err != nil {
		c.abortStart(s, err)
		return s, err
	}

	err := c.provider.StartRecording(ctx, dev, c.opts.Recording,
		func(path string) { c.finishRecording(s, path, nil) },
		func(err error) { c.finishRecording(s, "", err) },
	)
	if err != nil {
		appErr := errors.NewRecordingFailed(err)
		c.abortStart(s, appErr)
		return s, appErr
	}

	c.mu.Lock()
	c.starting = false
	if c.session != s {
		// Settled by a callback before StartRecording returned.
		c.mu.Unlock()
		return s, nil
	}
	if c.stopRequested {
		c.mu.Unlock()
		if err := c.provider.StopRecording(context.WithoutCancel(ctx), dev); err != nil {
			c.finishRecording(s, "", err)
		}
		return s, nil
	}
	c.startTickerLocked()
	c.mu.Unlock()
	c.log.Info("recording started", zap.String("device", dev.ID))
	return s, nil
}

// stopLocked stops the active recording. Called with c.mu held; releases it.
func (c *Controller) stopLocked(ctx context.Context) (*Session, error) {
	s := c.session
	dev := *c.device
	c.cancelTickerLocked()
	c.setStateLocked(StateFinalizing)
	if c.starting {
		c.stopRequested = true
		c.unlockAndNotify()
		return s, nil
	}
	c.unlockAndNotify()

	if err := c.provider.StopRecording(ctx, dev); err != nil {
		c.finishRecording(s, "", err)
		return s, errors.NewRecordingFailed(err)
	}
	return s, nil
}

// abortStart unwinds a recording that never reached the device.
func (c *Controller) abortStart(s *Session, err error) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
		c.starting = false
		c.cancelTickerLocked()
		if c.state == StateRecording || c.state == StateFinalizing {
			c.setStateLocked(StateIdle)
		}
	}
	c.unlockAndNotify()
	c.metrics.RecordCapture(string(media.KindVideo), metrics.CaptureFailed)
	s.settle(media.Draft{}, err)
}

// finishRecording applies a recording outcome, then settles the session.
func (c *Controller) finishRecording(s *Session, path string, cause error) {
	var (
		draft media.Draft
		err   error
	)
	if cause != nil {
		var appErr *errors.AppError
		if !stderrors.As(cause, &appErr) {
			appErr = errors.NewRecordingFailed(cause)
		}
		err = appErr
	} else {
		draft = media.Draft{Path: path, Kind: media.KindVideo}
	}

	c.mu.Lock()
	if c.session == s {
		c.session = nil
		c.starting = false
		c.cancelTickerLocked()
		if err != nil {
			c.setStateLocked(StateIdle)
		} else {
			d := draft
			c.draft = &d
			c.setStateLocked(StatePreviewing)
		}
		c.unlockAndNotify()
	} else {
		c.mu.Unlock()
	}

	if err != nil {
		c.metrics.RecordCapture(string(media.KindVideo), metrics.CaptureFailed)
		c.log.Warn("recording failed", zap.Error(cause))
	} else {
		c.log.Info("recording finished", zap.String("path", path))
	}
	s.settle(draft, err)
}

// startTickerLocked starts the elapsed-seconds counter. Only the ticker of
// the current generation may advance the count.
func (c *Controller) startTickerLocked() {
	c.cancelTickerLocked()
	c.tickGen++
	gen := c.tickGen
	ctx, cancel := context.WithCancel(context.Background())
	c.stopTicker = cancel

	go func() {
		t := time.NewTicker(c.opts.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.mu.Lock()
				if gen != c.tickGen || c.state != StateRecording {
					c.mu.Unlock()
					return
				}
				c.elapsed++
				c.unlockAndNotify()
			}
		}
	}()
}

func (c *Controller) cancelTickerLocked() {
	if c.stopTicker != nil {
		c.stopTicker()
		c.stopTicker = nil
	}
	c.tickGen++
}

// SwitchFacing schedules a flip to the opposite facing after the cooldown.
// Calls made while a switch is pending are ignored.
func (c *Controller) SwitchFacing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked("switch camera", StateIdle, StatePreviewing); err != nil {
		return err
	}
	if c.switchTimer != nil {
		return nil
	}
	c.switchTimer = time.AfterFunc(c.opts.SwitchCooldown, c.applySwitch)
	return nil
}

func (c *Controller) applySwitch() {
	c.mu.Lock()
	if c.closed || c.switchTimer == nil {
		c.mu.Unlock()
		return
	}
	want := c.facing.Opposite()
	c.mu.Unlock()

	devices, err := c.provider.EnumerateDevices(context.Background())

	c.mu.Lock()
	c.switchTimer = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.log.Warn("camera switch failed", zap.Error(err))
		c.unlockAndNotify()
		return
	}

	c.facing = want
	dev, ok := device.Select(devices, want)
	if !ok {
		c.device = nil
		// A held draft stays reviewable; the controller lands in
		// StateNoDevice once it is committed or discarded.
		if c.state == StateIdle {
			c.setStateLocked(StateNoDevice)
		}
	} else {
		c.device = &dev
	}
	c.log.Info("camera switched", zap.String("facing", string(want)))
	c.unlockAndNotify()
}

// CommitPreview saves the held draft. On failure the draft is kept and the
// controller stays in StatePreviewing so the user can retry or discard.
func (c *Controller) CommitPreview(ctx context.Context) (media.Record, error) {
	c.mu.Lock()
	if err := c.guardLocked("save", StatePreviewing); err != nil {
		c.mu.Unlock()
		return media.Record{}, err
	}
	draft := *c.draft
	c.setStateLocked(StateSaving)
	c.unlockAndNotify()

	rec, err := c.library.Commit(ctx, draft)
	if err != nil {
		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) {
			appErr = errors.NewPersistenceFailed(media.StorageKey, err)
		}
		c.mu.Lock()
		if c.state == StateSaving {
			c.setStateLocked(StatePreviewing)
		}
		c.unlockAndNotify()
		c.metrics.RecordCapture(string(draft.Kind), metrics.CaptureFailed)
		c.log.Warn("save failed", zap.String("path", draft.Path), zap.Error(err))
		return media.Record{}, appErr
	}

	c.mu.Lock()
	c.draft = nil
	c.setStateLocked(c.restingStateLocked())
	c.unlockAndNotify()
	c.metrics.RecordCapture(string(draft.Kind), metrics.CaptureSaved)
	c.log.Info("media saved", zap.String("path", rec.Path), zap.String("kind", string(rec.Kind)))
	return rec, nil
}

// DiscardPreview drops the held draft without saving it.
func (c *Controller) DiscardPreview() error {
	c.mu.Lock()
	if err := c.guardLocked("discard", StatePreviewing); err != nil {
		c.mu.Unlock()
		return err
	}
	kind := c.draft.Kind
	c.draft = nil
	c.setStateLocked(c.restingStateLocked())
	c.unlockAndNotify()
	c.metrics.RecordCapture(string(kind), metrics.CaptureDiscarded)
	return nil
}

// Close cancels timers and stops an active recording. The recording's
// session still settles through the provider callbacks.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelTickerLocked()
	if c.switchTimer != nil {
		c.switchTimer.Stop()
		c.switchTimer = nil
	}
	if c.state != StateRecording || c.device == nil {
		c.mu.Unlock()
		return nil
	}
	dev := *c.device
	c.setStateLocked(StateFinalizing)
	starting := c.starting
	if starting {
		// ToggleRecording stops the device once StartRecording returns.
		c.stopRequested = true
	}
	c.unlockAndNotify()
	if starting {
		return nil
	}

	if err := c.provider.StopRecording(context.Background(), dev); err != nil {
		return errors.NewRecordingFailed(err)
	}
	return nil
}

// FormatElapsed renders seconds as MM:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
