// Package process supervises long-running child processes.
//
// The relay service uses it to run a local MQTT broker when
// broker.managed is set, so a single unit brings up both the broker and the
// relay controller on a standalone battery cabinet.
//
// Features:
//   - Start/stop with SIGTERM then SIGKILL to the whole process group
//   - Restart on failure with exponential backoff
//   - Optional health-check watchdog
//   - Line-by-line capture of stdout/stderr into the logger
//
// Example usage:
//
//	mgr := process.NewManager(process.DefaultConfig(
//	    "mosquitto", "/usr/sbin/mosquitto", []string{"-p", "1883"},
//	))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
