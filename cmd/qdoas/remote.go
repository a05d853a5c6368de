package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/dontdude/qdoas/internal/controller"
	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/wire"
	"github.com/dontdude/qdoas/internal/workspace"
)

// remoteClient is a controller.Submitter that posts requests to a qdoas server, and the
// receiving end of the session's response batches. Submit only queues; send posts the queue
// in order on its own goroutine.
type remoteClient struct {
	base    string
	client  *http.Client
	session string

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
}

var _ controller.Submitter = (*remoteClient)(nil)

func newRemoteClient(base string) *remoteClient {
	return &remoteClient{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		wake:   make(chan struct{}, 1),
	}
}

// createSession asks the server for a new session id.
func (c *remoteClient) createSession(ctx context.Context) error {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.post(ctx, "/api/sessions", nil, http.StatusCreated, &out); err != nil {
		return err
	}
	if out.SessionID == "" {
		return errors.New("server returned no session id")
	}
	c.session = out.SessionID
	return nil
}

// Submit encodes req and queues it for send. It never waits on the network.
func (c *remoteClient) Submit(req domain.Request) error {
	env, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.mu.Lock()
	c.pending = append(c.pending, body)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// send posts queued requests one at a time, in submission order, until ctx is done.
// A request the server refuses is passed to failed and dropped.
func (c *remoteClient) send(ctx context.Context, failed func(error)) {
	path := "/api/sessions/" + c.session + "/requests"
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			body := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()

			if err := c.post(ctx, path, body, http.StatusAccepted, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				failed(err)
			}
		}
	}
}

func (c *remoteClient) post(ctx context.Context, path string, body []byte, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: server answered %d: %s", path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// dial opens the websocket carrying the session's response batches.
func (c *remoteClient) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.base + "/api/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"session_id": {c.session}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}
	return conn, nil
}

// receive decodes batches from conn and hands them to deliver until conn fails or ctx is done.
// Batches are numbered per session; a gap means responses were lost on the way.
func receive(ctx context.Context, conn *websocket.Conn, deliver func([]domain.Response), log *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var last uint64
	for {
		var batch domain.ResponseBatch
		if err := conn.ReadJSON(&batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket closed: %w", err)
		}
		if batch.Seq != last+1 {
			log.Warn("Missed response batches", "session", batch.SessionID, "expected", last+1, "got", batch.Seq)
		}
		last = batch.Seq

		responses, err := wire.DecodeBatch(batch)
		if err != nil {
			log.Error("Dropping undecodable batch", "seq", batch.Seq, "error", err)
			continue
		}
		deliver(responses)
	}
}

func newRemoteCmd() *cobra.Command {
	var server, project, modeName string
	cmd := &cobra.Command{
		Use:     "remote [files...]",
		Aliases: []string{"watch"},
		Short:   "Runs a session on a qdoas server and watches its progress.",
		Long: `Creates a session on a qdoas server, streams the session's response batches over a
websocket and drives it exactly like a local run. File paths are resolved on the workers.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			mode, err := domain.ParseMode(modeName)
			if err != nil {
				return err
			}
			ws, err := workspace.Load(cfg.Workspace)
			if err != nil {
				return err
			}
			session, err := ws.BuildSession(project, args...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client := newRemoteClient(server)
			if err := client.createSession(ctx); err != nil {
				return err
			}
			log.Info("Remote session created", "session", client.session)
			conn, err := client.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			loop := controller.NewEventLoop()
			ctrl := controller.New(client, log)
			ctrl.Subscribe(newConsole(cmd.OutOrStdout(), mode != domain.ModeBrowse))
			d := newDriver(loop, ctrl, log)

			// The transport outlives ctx so a cancelled session can still close its file.
			streamCtx, cancelStream := context.WithCancel(context.Background())
			defer cancelStream()
			go client.send(streamCtx, func(err error) {
				log.Error("Failed to submit request", "error", err)
				d.abort(err)
			})
			go func() {
				err := receive(streamCtx, conn, func(batch []domain.Response) {
					loop.Post(func() { ctrl.HandleResponses(batch) })
				}, log)
				if err != nil {
					log.Error("Lost the response stream", "error", err)
					d.abort(err)
				}
			}()
			return d.run(ctx, mode, session)
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "qdoas server URL")
	cmd.Flags().StringVarP(&project, "project", "p", "", "workspace project used for every file")
	cmd.Flags().StringVarP(&modeName, "mode", "m", "browse", "access mode: browse, analyse or calibrate")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(newRemoteCmd())
}
