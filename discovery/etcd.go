// Package discovery resolves the group's introducer through etcd, so nodes
// need not be configured with its address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
)

const IntroducerKey = "/zephyr/gossip/introducer"

var ErrNoIntroducer = errors.New("discovery: no introducer registered")

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Claim tries to register self as the introducer under a lease of ttl
// seconds. The first node to claim wins; everyone else gets the winner back.
// When self wins, the lease is kept alive until cancel is called.
func Claim(ctx context.Context, cli *clientv3.Client, self gossip.NodeID, ttl int64) (gossip.NodeID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return gossip.NodeID{}, nil, fmt.Errorf("discovery: grant lease: %w", err)
	}

	resp, err := cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(IntroducerKey), "=", 0)).
		Then(clientv3.OpPut(IntroducerKey, self.AddrPort().String(), clientv3.WithLease(lease.ID))).
		Else(clientv3.OpGet(IntroducerKey)).
		Commit()
	if err != nil {
		_, _ = cli.Revoke(context.Background(), lease.ID)
		return gossip.NodeID{}, nil, fmt.Errorf("discovery: claim introducer: %w", err)
	}

	if !resp.Succeeded {
		_, _ = cli.Revoke(ctx, lease.ID)
		intro, err := introducerFromKVs(resp.Responses[0].GetResponseRange().GetKvs())
		return intro, func() {}, err
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return gossip.NodeID{}, nil, fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return self, func() {
		kaCancel()
		_, _ = cli.Revoke(context.Background(), lease.ID)
	}, nil
}

// Lookup returns the currently registered introducer.
func Lookup(ctx context.Context, cli *clientv3.Client) (gossip.NodeID, error) {
	resp, err := cli.Get(ctx, IntroducerKey)
	if err != nil {
		return gossip.NodeID{}, fmt.Errorf("discovery: get %s: %w", IntroducerKey, err)
	}
	return introducerFromKVs(resp.Kvs)
}

func introducerFromKVs(kvs []*mvccpb.KeyValue) (gossip.NodeID, error) {
	for _, kv := range kvs {
		if string(kv.Key) != IntroducerKey {
			continue
		}
		id, err := gossip.ParseNodeID(string(kv.Value))
		if err != nil {
			return gossip.NodeID{}, fmt.Errorf("discovery: bad introducer value: %w", err)
		}
		return id, nil
	}
	return gossip.NodeID{}, ErrNoIntroducer
}
