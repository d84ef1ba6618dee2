package centrifuge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func connectedTestClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	c := testClient(ft, nil)
	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) > 0 })
	ft.deliver([]byte(`{"id":1,"result":{"client":"c1"}}`))
	if err := <-done; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	return c
}

func TestNewSubscriptionRejectsDuplicateChannel(t *testing.T) {
	c := testClient(&fakeTransport{}, nil)
	defer c.Close()

	if _, err := c.NewSubscription("news", SubscriptionOpts{}); err != nil {
		t.Fatalf("unexpected error on first NewSubscription: %v", err)
	}
	if _, err := c.NewSubscription("news", SubscriptionOpts{}); err != ErrDuplicateSubscription {
		t.Fatalf("expected ErrDuplicateSubscription, got %v", err)
	}
}

func TestSubscriptionTokenFallbackChain(t *testing.T) {
	t.Run("per-subscription static token wins", func(t *testing.T) {
		c := testClient(&fakeTransport{}, nil)
		defer c.Close()
		sub, _ := c.NewSubscription("$news", SubscriptionOpts{Token: "static-tok"})
		tok, err := sub.token()
		if err != nil || tok != "static-tok" {
			t.Fatalf("token=%q err=%v", tok, err)
		}
	})

	t.Run("per-subscription getter used over client-wide one", func(t *testing.T) {
		c := testClient(&fakeTransport{}, func(cfg *Config) {
			cfg.GetSubscriptionToken = func(string) (string, error) { return "client-wide", nil }
		})
		defer c.Close()
		sub, _ := c.NewSubscription("$news", SubscriptionOpts{
			GetToken: func(channel string) (string, error) { return "per-sub:" + channel, nil },
		})
		tok, err := sub.token()
		if err != nil || tok != "per-sub:$news" {
			t.Fatalf("token=%q err=%v", tok, err)
		}
	})

	t.Run("private channel falls back to client-wide getter", func(t *testing.T) {
		c := testClient(&fakeTransport{}, func(cfg *Config) {
			cfg.GetSubscriptionToken = func(channel string) (string, error) { return "signed:" + channel, nil }
		})
		defer c.Close()
		sub, _ := c.NewSubscription("$news", SubscriptionOpts{})
		tok, err := sub.token()
		if err != nil || tok != "signed:$news" {
			t.Fatalf("token=%q err=%v", tok, err)
		}
	})

	t.Run("private channel with no provider errors", func(t *testing.T) {
		c := testClient(&fakeTransport{}, nil)
		defer c.Close()
		sub, _ := c.NewSubscription("$news", SubscriptionOpts{})
		if _, err := sub.token(); !errors.Is(err, ErrTokenProviderRequired) {
			t.Fatalf("expected ErrTokenProviderRequired, got %v", err)
		}
	})

	t.Run("public channel needs no token", func(t *testing.T) {
		c := testClient(&fakeTransport{}, nil)
		defer c.Close()
		sub, _ := c.NewSubscription("news", SubscriptionOpts{})
		tok, err := sub.token()
		if err != nil || tok != "" {
			t.Fatalf("token=%q err=%v", tok, err)
		}
	})
}

func TestSubscriptionSubscribeUnsubscribeRoundTrip(t *testing.T) {
	ft := &fakeTransport{}
	c := connectedTestClient(t, ft)
	defer c.Close()

	sub, err := c.NewSubscription("news", SubscriptionOpts{})
	if err != nil {
		t.Fatalf("NewSubscription: %v", err)
	}

	subscribed := make(chan SubscribeEvent, 1)
	sub.OnSubscribe(func(e SubscribeEvent) { subscribed <- e })

	done := make(chan error, 1)
	go func() { done <- sub.Subscribe(context.Background()) }()
	waitFor(t, time.Second, func() bool { return len(ft.sent()) >= 2 })
	ft.deliver([]byte(`{"id":2,"result":{"recoverable":true,"offset":5,"epoch":"e1"}}`))

	if err := <-done; err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SubscribeEvent")
	}
	if sub.State() != SubscriptionSubscribed {
		t.Fatalf("expected SubscriptionSubscribed, got %v", sub.State())
	}

	// A second Subscribe call while already SUBSCRIBED is a no-op.
	if err := sub.Subscribe(context.Background()); err != nil {
		t.Fatalf("idempotent Subscribe: %v", err)
	}

	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if sub.State() != SubscriptionUnsubscribed {
		t.Fatalf("expected SubscriptionUnsubscribed, got %v", sub.State())
	}

	// A second Unsubscribe call while already UNSUBSCRIBED is a no-op and
	// must not send another command.
	sentBefore := len(ft.sent())
	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("idempotent Unsubscribe: %v", err)
	}
	if len(ft.sent()) != sentBefore {
		t.Fatalf("expected no additional frame sent, had %d now %d", sentBefore, len(ft.sent()))
	}
}

func TestSubscriptionResubscribeClearsRecoveryOnUnrecoverablePosition(t *testing.T) {
	ft := &fakeTransport{}
	c := connectedTestClient(t, ft)
	defer c.Close()

	sub, _ := c.NewSubscription("news", SubscriptionOpts{Recover: true})
	sub.mu.Lock()
	sub.state = SubscriptionSubscribed
	sub.recoverable = true
	sub.offset = 42
	sub.epoch = "e1"
	sub.mu.Unlock()

	var subErr error
	errCh := make(chan struct{}, 1)
	sub.OnError(func(e SubscriptionErrorEvent) {
		subErr = e.Error
		errCh <- struct{}{}
	})

	go sub.resubscribe(context.Background())
	waitFor(t, time.Second, func() bool { return len(ft.sent()) >= 2 })
	ft.deliver([]byte(`{"id":2,"error":{"code":112,"message":"unrecoverable"}}`))

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SubscriptionErrorEvent")
	}
	if !errors.Is(subErr, ErrUnrecoverablePosition) {
		t.Fatalf("expected ErrUnrecoverablePosition, got %v", subErr)
	}
	if sub.State() != SubscriptionUnsubscribed {
		t.Fatalf("expected SubscriptionUnsubscribed after unrecoverable position, got %v", sub.State())
	}
	sub.mu.Lock()
	recoverable, offset, epoch := sub.recoverable, sub.offset, sub.epoch
	sub.mu.Unlock()
	if recoverable || offset != 0 || epoch != "" {
		t.Fatalf("expected recovery state cleared, got recoverable=%v offset=%d epoch=%q", recoverable, offset, epoch)
	}
}
