package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ping/ping"
)

// ProbeFunc reports whether addr answered.
type ProbeFunc func(ctx context.Context, addr string) (bool, error)

type ICMPOptions struct {
	Count       int
	Timeout     time.Duration
	Privileged  bool
	Concurrency int
}

// ICMPClient is an inventory for accounts without an upstream API: the device
// list comes from configuration and connectivity from ICMP echo.
type ICMPClient struct {
	devices   []Device
	probe     ProbeFunc
	semaphore chan struct{}
}

func NewICMPClient(devices []Device, opts ICMPOptions) *ICMPClient {
	if opts.Count <= 0 {
		opts.Count = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return newICMPClient(devices, opts.Concurrency, pingProbe(opts))
}

func newICMPClient(devices []Device, concurrency int, probe ProbeFunc) *ICMPClient {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &ICMPClient{
		devices:   devices,
		probe:     probe,
		semaphore: make(chan struct{}, concurrency),
	}
}

func (c *ICMPClient) ListDevices(ctx context.Context, cred Credential) ([]Device, error) {
	results := make([]Device, len(c.devices))

	var wg sync.WaitGroup
	for i, device := range c.devices {
		wg.Add(1)
		go func(i int, device Device) {
			defer wg.Done()
			c.semaphore <- struct{}{}
			defer func() { <-c.semaphore }()

			device.Connected, device.Err = c.probe(ctx, device.Address)
			results[i] = device
		}(i, device)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *ICMPClient) GetDevice(ctx context.Context, cred Credential, id string) (*Device, error) {
	for _, device := range c.devices {
		if device.ID != id {
			continue
		}
		connected, err := c.probe(ctx, device.Address)
		if err != nil {
			return nil, err
		}
		device.Connected = connected
		return &device, nil
	}
	return nil, fmt.Errorf("%s: %w", id, ErrDeviceNotFound)
}

func pingProbe(opts ICMPOptions) ProbeFunc {
	return func(ctx context.Context, addr string) (bool, error) {
		pinger, err := ping.NewPinger(addr)
		if err != nil {
			return false, fmt.Errorf("failed to create pinger for %s: %w", addr, err)
		}

		pinger.Count = opts.Count
		pinger.Timeout = opts.Timeout
		pinger.SetPrivileged(opts.Privileged)

		done := make(chan error, 1)
		go func() { done <- pinger.Run() }()

		select {
		case err = <-done:
		case <-ctx.Done():
			pinger.Stop()
			<-done
			return false, ctx.Err()
		}
		if err != nil {
			return false, fmt.Errorf("failed to ping %s: %w", addr, err)
		}

		return pinger.Statistics().PacketsRecv > 0, nil
	}
}
