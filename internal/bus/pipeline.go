package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/jsonfile"
	"github.com/ankittk/teamscope/internal/otel"
	"github.com/ankittk/teamscope/internal/watcher"
)

// Source is one watched root feeding the pipeline.
type Source struct {
	Root          events.RootKind
	Notifications <-chan watcher.Notification
}

type tagged struct {
	root events.RootKind
	n    watcher.Notification
}

// Run processes notifications from every source one at a time until ctx is
// done or all sources are closed. Order within a source is preserved.
func (b *Bus) Run(ctx context.Context, sources ...Source) error {
	merged := make(chan tagged)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n, ok := <-src.Notifications:
					if !ok {
						return
					}
					select {
					case merged <- tagged{root: src.Root, n: n}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-merged:
			if !ok {
				return nil
			}
			b.Process(ctx, t.root, t.n)
		}
	}
}

// Process reads, classifies and publishes one notification. Unreadable or
// unrecognized files are dropped here.
func (b *Bus) Process(ctx context.Context, root events.RootKind, n watcher.Notification) events.Event {
	otel.RecordNotification(ctx, string(root), string(n.Kind))
	var content json.RawMessage
	if n.Kind != watcher.Unlink {
		content, _ = jsonfile.Read(n.Path)
	}
	ev := events.Classify(events.Input{
		Root:    root,
		RelPath: n.RelPath,
		Kind:    n.Kind,
		Content: content,
		At:      b.now().UTC(),
	})
	if ig, ok := ev.(events.Ignored); ok {
		b.log.Debug("notification ignored", "root", root, "path", n.RelPath, "kind", n.Kind, "reason", ig.Reason)
		return ev
	}
	_, _ = b.Publish(ctx, ev)
	return ev
}
