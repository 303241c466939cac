// Package discovery adapts an external worker registry into the
// kvrouter.EndpointSet's Up/Down calls. The core package never imports
// this one; wiring happens in cmd/serve.go.
package discovery

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kvcache-router/kvcache-router/kvrouter"
)

// backoff bounds for the watch-stream reconnect loop (spec §7: "Transient
// coordination errors ... recovered internally with exponential backoff
// (100ms -> 5s)").
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// EtcdWatcher watches an etcd key prefix for worker registration and
// deregistration, translating PUT/DELETE into EndpointSet.Up/Down calls.
// Keys are expected under "instances/<namespace>/<component>/<worker_id>";
// the value is unused (liveness is key presence, not value content).
type EtcdWatcher struct {
	client    *clientv3.Client
	prefix    string
	endpoints *kvrouter.EndpointSet
	onStale   func(stale bool)
}

// NewEtcdWatcher constructs a watcher over prefix, announcing transitions
// on endpoints. onStale, if non-nil, is invoked with true when the watch
// stream has been interrupted longer than staleDelay, and with false on
// recovery — callers wire this to Scheduler.Degrade/Recover.
func NewEtcdWatcher(client *clientv3.Client, namespace, component string, endpoints *kvrouter.EndpointSet, onStale func(stale bool)) *EtcdWatcher {
	return &EtcdWatcher{
		client:    client,
		prefix:    "instances/" + namespace + "/" + component + "/",
		endpoints: endpoints,
		onStale:   onStale,
	}
}

// Run watches the registration prefix until ctx is cancelled. It first
// lists existing keys to seed initial liveness, then streams subsequent
// changes, reconnecting with exponential backoff on stream errors.
func (w *EtcdWatcher) Run(ctx context.Context, staleDelay time.Duration) {
	if err := w.seed(ctx); err != nil {
		logrus.WithError(err).Warn("kvrouter: discovery: initial list failed, continuing to watch")
	}

	backoff := minBackoff
	stale := false
	var interruptedSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		watchCh := w.client.Watch(ctx, w.prefix, clientv3.WithPrefix())

		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				logrus.WithError(err).Warn("kvrouter: discovery: watch stream error, reconnecting")
				break
			}
			backoff = minBackoff
			interruptedSince = time.Time{}
			if stale {
				stale = false
				if w.onStale != nil {
					w.onStale(false)
				}
			}
			for _, ev := range resp.Events {
				w.applyEvent(ev)
			}
		}

		if ctx.Err() != nil {
			return
		}
		if interruptedSince.IsZero() {
			interruptedSince = time.Now()
		}
		if !stale && time.Since(interruptedSince) > staleDelay {
			stale = true
			if w.onStale != nil {
				w.onStale(true)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (w *EtcdWatcher) seed(ctx context.Context) error {
	resp, err := w.client.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		if id, ok := w.parseWorkerID(string(kv.Key)); ok {
			w.endpoints.Up(id)
		}
	}
	return nil
}

func (w *EtcdWatcher) applyEvent(ev *clientv3.Event) {
	id, ok := w.parseWorkerID(string(ev.Kv.Key))
	if !ok {
		logrus.Warnf("kvrouter: discovery: malformed key %q, ignoring", ev.Kv.Key)
		return
	}
	switch ev.Type {
	case clientv3.EventTypePut:
		w.endpoints.Up(id)
	case clientv3.EventTypeDelete:
		w.endpoints.Down(id)
	}
}

func (w *EtcdWatcher) parseWorkerID(key string) (kvrouter.WorkerID, bool) {
	if !strings.HasPrefix(key, w.prefix) {
		return 0, false
	}
	suffix := strings.TrimPrefix(key, w.prefix)
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return kvrouter.WorkerID(n), true
}
