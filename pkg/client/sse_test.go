package client

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/docnav/pkg/protocol"
)

func TestSSESubscribe(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: tree_changed\ndata: {\"node_id\":\"a\",\"action\":\"move\",\"timestamp\":1}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	c.SetAuthToken("tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, _ := NewSSEClient(c).Subscribe(ctx)
	select {
	case ev := <-events:
		assert.Equal(t, protocol.EventTreeChanged, ev.Type)
		assert.Equal(t, "a", ev.NodeID)
	case <-ctx.Done():
		require.Fail(t, "no event received")
	}
	cancel()
}
