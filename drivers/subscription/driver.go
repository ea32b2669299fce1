// Package subscription implements the Subscription Sink driver contract
// of spec §6: subscribe/unsubscribe against the delay-model, jones,
// doppler and beam-weight publication points named in §4.4 step 6,
// grounded on the teacher's now-superseded gNMI subscribe idiom
// (SubscriptionConfig/TelemetryHandler/Subscription, stream-per-call,
// channel-buffered updates) built on github.com/openconfig/gnmi and
// google.golang.org/grpc.
package subscription

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Update is one value change delivered to a subscriber callback.
type Update struct {
	Path      string
	Value     string
	Timestamp time.Time
}

// Callback receives updates for a subscribed attribute FQDN.
type Callback func(Update)

// Handle identifies an active subscription for Unsubscribe.
type Handle string

// Sink is the driver contract consumed by subarray's ConfigureScan
// subscription-point wiring.
type Sink interface {
	Subscribe(ctx context.Context, attributeFQDN string, cb Callback) (Handle, error)
	Unsubscribe(h Handle) error
}

// GNMISink is the production driver: it dials a gNMI target once and
// opens one STREAM Subscribe RPC per call to Subscribe, mirroring the
// teacher's one-stream-per-subscription pattern.
type GNMISink struct {
	conn   *grpc.ClientConn
	client gnmipb.GNMIClient

	mu   sync.Mutex
	subs map[Handle]context.CancelFunc
	seq  int
}

// DialGNMISink connects to a gNMI target and returns a production sink.
func DialGNMISink(ctx context.Context, target string) (*GNMISink, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	//nolint:staticcheck // DialContext is deprecated but matches the teacher's grpc usage
	conn, err := grpc.DialContext(dialCtx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	if err != nil {
		return nil, fmt.Errorf("subscription: dial %s: %w", target, err)
	}
	return &GNMISink{
		conn:   conn,
		client: gnmipb.NewGNMIClient(conn),
		subs:   map[Handle]context.CancelFunc{},
	}, nil
}

// Close tears down the gRPC connection and all active subscriptions.
func (g *GNMISink) Close() error {
	g.mu.Lock()
	for _, cancel := range g.subs {
		cancel()
	}
	g.subs = map[Handle]context.CancelFunc{}
	g.mu.Unlock()
	return g.conn.Close()
}

func (g *GNMISink) Subscribe(ctx context.Context, attributeFQDN string, cb Callback) (Handle, error) {
	subCtx, cancel := context.WithCancel(ctx)

	req := &gnmipb.SubscribeRequest{
		Request: &gnmipb.SubscribeRequest_Subscribe{
			Subscribe: &gnmipb.SubscriptionList{
				Mode:     gnmipb.SubscriptionList_STREAM,
				Encoding: gnmipb.Encoding_JSON_IETF,
				Subscription: []*gnmipb.Subscription{
					{Path: parsePath(attributeFQDN), Mode: gnmipb.SubscriptionMode_ON_CHANGE},
				},
			},
		},
	}

	stream, err := g.client.Subscribe(subCtx)
	if err != nil {
		cancel()
		return "", fmt.Errorf("subscription: open stream for %s: %w", attributeFQDN, err)
	}
	if err := stream.Send(req); err != nil {
		cancel()
		return "", fmt.Errorf("subscription: send request for %s: %w", attributeFQDN, err)
	}

	g.mu.Lock()
	g.seq++
	handle := Handle(fmt.Sprintf("sub-%s-%d", attributeFQDN, g.seq))
	g.subs[handle] = cancel
	g.mu.Unlock()

	go pump(subCtx, stream, attributeFQDN, cb)

	return handle, nil
}

func (g *GNMISink) Unsubscribe(h Handle) error {
	g.mu.Lock()
	cancel, ok := g.subs[h]
	delete(g.subs, h)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription: unknown handle %s", h)
	}
	cancel()
	return nil
}

func pump(ctx context.Context, stream gnmipb.GNMI_SubscribeClient, path string, cb Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			return
		}
		upd, ok := resp.Response.(*gnmipb.SubscribeResponse_Update)
		if !ok {
			continue
		}
		for _, u := range upd.Update.Update {
			cb(Update{Path: path, Value: valueToString(u.Val), Timestamp: time.Unix(0, upd.Update.Timestamp)})
		}
	}
}

func valueToString(v *gnmipb.TypedValue) string {
	if v == nil {
		return ""
	}
	switch val := v.Value.(type) {
	case *gnmipb.TypedValue_StringVal:
		return val.StringVal
	case *gnmipb.TypedValue_JsonIetfVal:
		return string(val.JsonIetfVal)
	case *gnmipb.TypedValue_JsonVal:
		return string(val.JsonVal)
	default:
		return fmt.Sprintf("%v", v.Value)
	}
}

func parsePath(fqdn string) *gnmipb.Path {
	return &gnmipb.Path{
		Elem: []*gnmipb.PathElem{{Name: fqdn}},
	}
}
