package main

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/shutter/internal/app"
	"github.com/hpungsan/shutter/internal/capture"
	"github.com/hpungsan/shutter/internal/device"
	"github.com/hpungsan/shutter/internal/directory"
	"github.com/hpungsan/shutter/internal/errors"
	"github.com/hpungsan/shutter/internal/media"
	"github.com/hpungsan/shutter/internal/search"
	"github.com/hpungsan/shutter/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// a may be nil when only help or version output is needed.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "shutter",
		Usage:   "Camera capture and people search",
		Version: Version,
		Commands: []*cli.Command{
			searchCmd(a),
			historyCmd(a),
			mediaCmd(a),
			captureCmd(a),
			serveCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// searchOutput is the result of a directory lookup.
type searchOutput struct {
	Query string                  `json:"query"`
	Users []directory.UserSummary `json:"users"`
	Count int                     `json:"count"`
}

// searchCmd creates the search command.
func searchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Look up users in the directory (a leading @ is ignored)",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "Read keystrokes line by line from stdin and search as you type"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("interactive") {
				return interactiveSearch(c, a)
			}

			query := strings.Join(c.Args().Slice(), " ")
			term := search.NormalizeTerm(query)
			if term == "" {
				return outputError(errors.NewInvalidRequest("query is required"))
			}

			users, err := a.Search.Lookup(c.Context, query)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, searchOutput{Query: term, Users: users, Count: len(users)})
		},
	}
}

// interactiveSearch feeds each stdin line to the search box as if typed,
// printing results every time a debounced lookup completes.
func interactiveSearch(c *cli.Context, a *app.App) error {
	p := &resultPrinter{w: c.App.Writer}
	a.Search.OnChange(p.observe)
	defer a.Search.OnChange(nil)

	scanner := bufio.NewScanner(c.App.Reader)
	for scanner.Scan() {
		a.Search.SetQueryText(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return outputError(errors.NewInternal(err))
	}

	// Let the last debounce fire and its lookup settle.
	settle := a.Config.SearchDebounce() + 50*time.Millisecond
	deadline := time.Now().Add(settle + a.Config.SearchTimeout())
	select {
	case <-time.After(settle):
	case <-c.Context.Done():
		return nil
	}
	for a.Search.Snapshot().Loading && time.Now().Before(deadline) {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-c.Context.Done():
			return nil
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// resultPrinter writes a searchOutput line whenever a lookup finishes.
type resultPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	loading bool
	err     error
}

func (p *resultPrinter) observe(s search.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	finished := p.loading && !s.Loading
	p.loading = s.Loading
	if !finished || p.err != nil {
		return
	}
	out := searchOutput{Query: search.NormalizeTerm(s.Text), Users: s.Results, Count: len(s.Results)}
	if err := json.NewEncoder(p.w).Encode(out); err != nil {
		p.err = err
	}
}

// historyCmd creates the history command.
func historyCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Manage recent searches",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent searches, most recent first",
				Action: func(c *cli.Context) error {
					history := a.Search.History()
					return outputJSON(c.App.Writer, map[string]any{"history": history, "count": len(history)})
				},
			},
			{
				Name:      "rm",
				Usage:     "Remove one recent search",
				ArgsUsage: "<entry>",
				Action: func(c *cli.Context) error {
					entry := c.Args().First()
					if entry == "" {
						return outputError(errors.NewInvalidRequest("entry is required"))
					}
					if err := a.Search.RemoveHistoryEntry(c.Context, entry); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"removed": entry, "history": a.Search.History()})
				},
			},
			{
				Name:  "clear",
				Usage: "Remove all recent searches",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Skip the confirmation prompt"},
				},
				Action: func(c *cli.Context) error {
					n := len(a.Search.History())
					cleared, err := a.Search.ClearHistory(c.Context, func() bool {
						return c.Bool("yes") || confirm(c, fmt.Sprintf("Clear %d recent searches?", n))
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"cleared": cleared})
				},
			},
		},
	}
}

// mediaCmd creates the media command.
func mediaCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "media",
		Usage: "Inspect saved photos and videos",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List saved media, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Filter by type: photo|video"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum records to return (0 = all)"},
				},
				Action: func(c *cli.Context) error {
					kind := media.Kind(c.String("type"))
					if kind != "" && !kind.Valid() {
						return outputError(errors.NewInvalidRequest("type must be photo or video"))
					}
					if c.Int("limit") < 0 {
						return outputError(errors.NewInvalidRequest("limit must not be negative"))
					}

					records, err := a.Media.Load(c.Context)
					if err != nil {
						return outputError(err)
					}
					total := len(records)
					items := filterMedia(records, kind, c.Int("limit"))
					return outputJSON(c.App.Writer, map[string]any{"items": items, "total": total})
				},
			},
			{
				Name:  "clear",
				Usage: "Forget all saved media (files on disk are kept)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Skip the confirmation prompt"},
				},
				Action: func(c *cli.Context) error {
					if !c.Bool("yes") && !confirm(c, "Forget all saved media?") {
						return outputJSON(c.App.Writer, map[string]any{"cleared": false})
					}
					if err := a.Media.Clear(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"cleared": true})
				},
			},
		},
	}
}

func filterMedia(records []media.Record, kind media.Kind, limit int) []media.Record {
	out := make([]media.Record, 0, len(records))
	for _, rec := range records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// captureOutput describes the outcome of a capture command.
type captureOutput struct {
	Saved  bool          `json:"saved"`
	Draft  media.Draft   `json:"draft"`
	Record *media.Record `json:"record,omitempty"`
}

func captureFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "File the filesystem camera captures from"},
		&cli.BoolFlag{Name: "front", Usage: "Prefer the front-facing camera"},
		&cli.BoolFlag{Name: "discard", Usage: "Discard the capture instead of saving it"},
	}, extra...)
}

// captureCmd creates the capture command.
func captureCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Take a photo or record a video with the filesystem camera",
		Subcommands: []*cli.Command{
			{
				Name:  "photo",
				Usage: "Capture a still photo",
				Flags: captureFlags(),
				Action: func(c *cli.Context) error {
					ctrl, err := openCapture(c, a)
					if err != nil {
						return outputError(err)
					}
					if _, err := ctrl.CapturePhoto(c.Context); err != nil {
						return outputError(err)
					}
					return finishCapture(c, ctrl)
				},
			},
			{
				Name:  "video",
				Usage: "Record a video; stops after --duration or on Ctrl-C",
				Flags: captureFlags(
					&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 3 * time.Second, Usage: "Recording length"},
				),
				Action: func(c *cli.Context) error {
					if c.Duration("duration") <= 0 {
						return outputError(errors.NewInvalidRequest("duration must be positive"))
					}
					ctrl, err := openCapture(c, a)
					if err != nil {
						return outputError(err)
					}
					if err := record(c, ctrl, c.Duration("duration")); err != nil {
						return outputError(err)
					}
					return finishCapture(c, ctrl)
				},
			},
		},
	}
}

// openCapture builds and initializes a controller over the filesystem camera.
func openCapture(c *cli.Context, a *app.App) (*capture.Controller, error) {
	facing := device.FacingBack
	if c.Bool("front") {
		facing = device.FacingFront
	}
	ctrl := a.NewCapture(a.FSProvider(c.String("source")), facing)
	if err := ctrl.Initialize(c.Context); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// record runs one recording session for d, or until interrupted.
func record(c *cli.Context, ctrl *capture.Controller, d time.Duration) error {
	session, err := ctrl.ToggleRecording(c.Context)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-sigCh:
	case <-c.Context.Done():
	case <-session.Done():
		// The device ended the session on its own.
		_, err := session.Wait(c.Context)
		return err
	}

	if _, err := ctrl.ToggleRecording(c.Context); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Context), 30*time.Second)
	defer cancel()
	_, err = session.Wait(ctx)
	return err
}

// finishCapture saves or discards the draft held by ctrl.
func finishCapture(c *cli.Context, ctrl *capture.Controller) error {
	snap := ctrl.Snapshot()
	if snap.Draft == nil {
		return outputError(errors.NewInvalidState("save", string(snap.State)))
	}
	out := captureOutput{Draft: *snap.Draft}

	if c.Bool("discard") {
		if err := ctrl.DiscardPreview(); err != nil {
			return outputError(err)
		}
		return outputJSON(c.App.Writer, out)
	}

	rec, err := ctrl.CommitPreview(c.Context)
	if err != nil {
		return outputError(err)
	}
	out.Saved = true
	out.Record = &rec
	return outputJSON(c.App.Writer, out)
}

// serveCmd creates the serve command.
func serveCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind to"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8314, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(errors.NewInvalidRequest("port must be between 1 and 65535"))
			}
			srv, err := web.NewServer(a, Version, c.String("bind"), port)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, a.Log); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	appErr := errors.As(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
}

// confirm asks a yes/no question on stderr and reads the answer from stdin.
// Anything but y or yes declines.
func confirm(c *cli.Context, prompt string) bool {
	fmt.Fprintf(c.App.ErrWriter, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
