// Package sandbox executes a command inside a container with the
// workspace bind-mounted, for tasks whose verification must not run on
// the host. It satisfies the same executor contract as the host process
// runner, including the timeout classification.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	"github.com/sploithunter/harness-bench/internal/proc"
)

// workspaceTarget is where the workspace is mounted inside the container.
const workspaceTarget = "/workspace"

// Executor runs commands in containers of a fixed image.
type Executor struct {
	Image string
}

// Run creates a container for spec, bind-mounting spec.Dir at /workspace,
// and waits for it to exit within spec.Timeout. Timeout kills the
// container and yields classification timeout, mirroring the host runner.
// Infrastructure failures (daemon unreachable, image missing) surface as
// error:<detail> so the caller records them instead of crashing.
func (e Executor) Run(ctx context.Context, spec proc.Spec) proc.Result {
	start := time.Now()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return errResult(start, fmt.Sprintf("creating docker client: %v", err))
	}
	defer cli.Close()

	cmd := append([]string{spec.Command}, spec.Args...)
	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.Dir, Target: workspaceTarget},
		},
		Init: &initTrue,
	}
	containerCfg := &container.Config{
		Image:      e.Image,
		Cmd:        cmd,
		Env:        spec.Env,
		WorkingDir: workspaceTarget,
		Labels:     map[string]string{"harness-bench": "true"},
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return errResult(start, fmt.Sprintf("creating container: %v", err))
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return errResult(start, fmt.Sprintf("starting container: %v", err))
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				return proc.Result{
					Classification: proc.Timeout,
					ExitCode:       124,
					Stdout:         e.collectLogs(cli, containerID),
					Elapsed:        time.Since(start),
				}
			}
			// nil means nothing failed on this channel; keep waiting
		case status := <-waitResult.Result:
			res := proc.Result{
				ExitCode: int(status.StatusCode),
				Stdout:   e.collectLogs(cli, containerID),
				Elapsed:  time.Since(start),
			}
			if res.ExitCode == 0 {
				res.Classification = proc.Completed
			} else {
				res.Classification = proc.NonzeroExit
			}
			return res
		}
	}
}

// collectLogs reads the container's combined output. The stream is needed
// in full for the audit trail, same as host runs.
func (e Executor) collectLogs(cli *client.Client, containerID string) string {
	reader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return ""
	}
	defer reader.Close()
	data, _ := io.ReadAll(reader)
	return string(data)
}

func errResult(start time.Time, detail string) proc.Result {
	return proc.Result{
		Classification: proc.ErrorClass(detail),
		ExitCode:       -1,
		Elapsed:        time.Since(start),
	}
}
