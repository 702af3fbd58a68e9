package sources

import (
	"context"
	"io"
	"sync"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// ContainerSourceConfig selects which containers to follow and the rule_id
// each emitted line is submitted under.
type ContainerSourceConfig struct {
	RuleID       string            `yaml:"rule_id"`
	LabelFilters map[string]string `yaml:"label_filters"`
}

// ctxReader makes a blocking io.Reader respect context cancellation:
// stdcopy.StdCopy has no context-aware variant, so the reader itself must
// refuse to block once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// lineSubmitWriter is an io.Writer that buffers one demultiplexed Docker
// log stream (stdout or stderr) and submits complete lines as they
// accumulate.
type lineSubmitWriter struct {
	submitter Submitter
	ruleID    string
	buf       []byte
}

func (w *lineSubmitWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := -1
		for i, b := range w.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		line := w.buf[:idx]
		w.buf = w.buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		_ = w.submitter.Submit(w.ruleID, append([]byte(nil), line...))
	}
	return len(p), nil
}

// ContainerSource streams logs from every running container matching
// config.LabelFilters, following container start/stop events and
// submitting one event per demultiplexed log line.
type ContainerSource struct {
	config    ContainerSourceConfig
	submitter Submitter
	logger    *logrus.Logger
	cli       *client.Client

	mu         sync.Mutex
	collectors map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewContainerSource builds a ContainerSource bound to the local Docker
// daemon via the standard DOCKER_HOST environment resolution.
func NewContainerSource(config ContainerSourceConfig, submitter Submitter, logger *logrus.Logger) (*ContainerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &ContainerSource{
		config:     config,
		submitter:  submitter,
		logger:     logger,
		cli:        cli,
		collectors: map[string]context.CancelFunc{},
	}, nil
}

// Start attaches to every currently-running matching container and begins
// following the Docker event stream for future starts/stops.
func (cs *ContainerSource) Start(ctx context.Context) error {
	cs.ctx, cs.cancel = context.WithCancel(ctx)

	listFilters := filters.NewArgs()
	for k, v := range cs.config.LabelFilters {
		listFilters.Add("label", k+"="+v)
	}
	containers, err := cs.cli.ContainerList(cs.ctx, dockertypes.ContainerListOptions{Filters: listFilters})
	if err != nil {
		return err
	}
	for _, c := range containers {
		cs.startCollecting(c.ID)
	}

	cs.wg.Add(1)
	go cs.watchEvents(listFilters)
	return nil
}

func (cs *ContainerSource) watchEvents(listFilters filters.Args) {
	defer cs.wg.Done()
	msgs, errs := cs.cli.Events(cs.ctx, dockertypes.EventsOptions{Filters: listFilters})
	for {
		select {
		case <-cs.ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil && cs.ctx.Err() == nil {
				cs.logger.WithError(err).Warn("container source: event stream error")
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			switch msg.Action {
			case events.ActionStart:
				cs.startCollecting(msg.Actor.ID)
			case events.ActionDie, events.ActionStop:
				cs.stopCollecting(msg.Actor.ID)
			}
		}
	}
}

func (cs *ContainerSource) startCollecting(containerID string) {
	cs.mu.Lock()
	if _, exists := cs.collectors[containerID]; exists {
		cs.mu.Unlock()
		return
	}
	collectCtx, cancel := context.WithCancel(cs.ctx)
	cs.collectors[containerID] = cancel
	cs.mu.Unlock()

	cs.wg.Add(1)
	go cs.collect(collectCtx, containerID)
}

func (cs *ContainerSource) stopCollecting(containerID string) {
	cs.mu.Lock()
	cancel, exists := cs.collectors[containerID]
	delete(cs.collectors, containerID)
	cs.mu.Unlock()
	if exists {
		cancel()
	}
}

func (cs *ContainerSource) collect(ctx context.Context, containerID string) {
	defer cs.wg.Done()
	defer func() {
		cs.mu.Lock()
		delete(cs.collectors, containerID)
		cs.mu.Unlock()
	}()

	logStream, err := cs.cli.ContainerLogs(ctx, containerID, dockertypes.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if ctx.Err() == nil {
			cs.logger.WithError(err).WithField("container_id", containerID[:12]).Warn("container source: failed to attach log stream")
		}
		return
	}
	defer logStream.Close()

	wrapped := &ctxReader{ctx: ctx, r: logStream}
	stdout := &lineSubmitWriter{submitter: cs.submitter, ruleID: cs.config.RuleID}
	stderr := &lineSubmitWriter{submitter: cs.submitter, ruleID: cs.config.RuleID}

	_, err = stdcopy.StdCopy(stdout, stderr, wrapped)
	if err != nil && err != context.Canceled && ctx.Err() == nil {
		cs.logger.WithError(err).WithField("container_id", containerID[:12]).Warn("container source: log copy ended with error")
	}
}

// Stop cancels every active collector and waits for them to exit.
func (cs *ContainerSource) Stop() error {
	if cs.cancel != nil {
		cs.cancel()
	}
	cs.wg.Wait()
	return nil
}
