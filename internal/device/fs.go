package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// FSProvider is a Provider that "captures" by copying a source file into a
// media directory. Photos are named IMG_<ulid>, videos VID_<ulid>.
type FSProvider struct {
	Dir        string
	Source     string
	Permission Permission
	Devices    []Device

	mu     sync.Mutex
	active map[string]*fsRecording
}

type fsRecording struct {
	opts       RecordingOptions
	onFinished func(string)
	onError    func(error)
}

// NewFSProvider returns a provider with a back and a front device.
func NewFSProvider(dir, source string, perm Permission) *FSProvider {
	return &FSProvider{
		Dir:        dir,
		Source:     source,
		Permission: perm,
		Devices: []Device{
			{ID: "fs-back-0", Facing: FacingBack},
			{ID: "fs-front-1", Facing: FacingFront},
		},
		active: make(map[string]*fsRecording),
	}
}

// RequestPermissions reports the configured outcome for both capabilities.
func (p *FSProvider) RequestPermissions(ctx context.Context) (PermissionSet, error) {
	if err := ctx.Err(); err != nil {
		return PermissionSet{}, err
	}
	perm := p.Permission
	if perm == "" {
		perm = PermissionGranted
	}
	return PermissionSet{Camera: perm, Microphone: perm}, nil
}

// EnumerateDevices returns the configured devices.
func (p *FSProvider) EnumerateDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Device(nil), p.Devices...), nil
}

// CapturePhoto copies Source into Dir and returns the new path.
func (p *FSProvider) CapturePhoto(ctx context.Context, dev Device) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.copySource("IMG_", ".jpg")
}

// StartRecording marks dev as recording. The file is written on stop.
func (p *FSProvider) StartRecording(ctx context.Context, dev Device, opts RecordingOptions, onFinished func(string), onError func(error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Source == "" {
		return errors.New("no source file configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		p.active = make(map[string]*fsRecording)
	}
	if _, busy := p.active[dev.ID]; busy {
		return fmt.Errorf("device %s is already recording", dev.ID)
	}
	p.active[dev.ID] = &fsRecording{opts: opts, onFinished: onFinished, onError: onError}
	return nil
}

// StopRecording finalizes the recording on dev asynchronously.
func (p *FSProvider) StopRecording(ctx context.Context, dev Device) error {
	p.mu.Lock()
	rec, ok := p.active[dev.ID]
	delete(p.active, dev.ID)
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("device %s is not recording", dev.ID)
	}

	go func() {
		path, err := p.copySource("VID_", ".mp4")
		if err != nil {
			rec.onError(err)
			return
		}
		rec.onFinished(path)
	}()
	return nil
}

func (p *FSProvider) copySource(prefix, defaultExt string) (string, error) {
	if p.Source == "" {
		return "", errors.New("no source file configured")
	}
	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	src, err := os.Open(p.Source)
	if err != nil {
		return "", err
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(p.Source))
	if ext == "" {
		ext = defaultExt
	}
	dstPath := filepath.Join(p.Dir, prefix+ulid.Make().String()+ext)

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dstPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return "", err
	}
	return dstPath, nil
}
