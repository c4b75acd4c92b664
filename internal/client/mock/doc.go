// Package mock provides mock implementations of client.HeadlessClient and
// client.HeadlessProcess for testing.
//
// The mock process exposes control methods to inject events and errors and
// to drive the lifecycle (Complete, Fail, Cancel) without spawning a real
// process. The mock client registers itself under client.ClientMock, so
// tests can exercise the full registry path:
//
//	c, _ := client.NewClient(client.ClientMock)
//	proc, _ := c.Spawn(ctx, client.Config{WorkDir: dir})
//	mp := proc.(*mock.Process)
//	mp.SendInitEvent("sess-123", dir)
//	mp.Complete()
package mock
