//
// Copyright 2023-2024 Vmbox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/vmbox/vmbox-rootfs/cgroup"
	"github.com/vmbox/vmbox-rootfs/device"
	"github.com/vmbox/vmbox-rootfs/mount"
	"github.com/vmbox/vmbox-rootfs/rootfs"
	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
)

const (
	usage = `vmbox-rootfs container rootfs builder

vmbox-rootfs runs inside a vmbox guest VM and constructs a container's
root filesystem from its OCI configuration: mounts, cgroup hierarchy,
device nodes, the root switch, and the read-only lockdown.
`
)

// Globals to be populated at build time during Makefile processing.
var (
	version  string // extracted from VERSION file
	commitId string // latest git commit-id of vmbox superproject
	builtAt  string // build time
	builtBy  string // build owner
)

// loadSpec reads and decodes the container's OCI configuration.
func loadSpec(path string) (*specs.Spec, error) {
	data, err := afero.ReadFile(sysio.AppFs, path)
	if err != nil {
		return nil, err
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("could not decode configuration %s: %v", path, err)
	}

	return &spec, nil
}

//
// vmbox-rootfs main function
//
func main() {

	app := cli.NewApp()
	app.Name = "vmbox-rootfs"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "spec",
			Value: "config.json",
			Usage: "path to the container's OCI configuration",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "/dev/stdout",
			Usage: "log file path",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.BoolFlag{
			Name:  "bind-device",
			Usage: "bind-mount device nodes from the guest instead of mknod (user namespaces)",
		},
		cli.BoolFlag{
			Name:  "as-init",
			Usage: "switch root with MS_MOVE + chroot (this process is the guest's init)",
		},
		cli.BoolFlag{
			Name:  "no-pivot",
			Usage: "build the rootfs but skip the root switch",
		},
	}

	// show-version specialization.
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("vmbox-rootfs\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	// Define 'debug' and 'log' settings.
	app.Before = func(ctx *cli.Context) error {

		// Create/set the log-file destination.
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(
				path,
				os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC,
				0666,
			)
			if err != nil {
				logrus.Fatalf(
					"Error opening log file %v: %v. Exiting ...",
					path, err,
				)
				return err
			}

			// Set a proper logging formatter.
			logrus.SetFormatter(&logrus.TextFormatter{
				ForceColors:     true,
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
			logrus.SetOutput(f)
			log.SetOutput(f)
		}

		// Set desired log-level.
		if logLevel := ctx.GlobalString("log-level"); logLevel != "" {
			switch logLevel {
			case "debug":
				logrus.SetLevel(logrus.DebugLevel)
			case "info":
				logrus.SetLevel(logrus.InfoLevel)
			case "warning":
				logrus.SetLevel(logrus.WarnLevel)
			case "error":
				logrus.SetLevel(logrus.ErrorLevel)
			case "fatal":
				logrus.SetLevel(logrus.FatalLevel)
			default:
				logrus.Fatalf(
					"log-level option '%v' not recognized. Exiting ...",
					logLevel,
				)
			}
		} else {
			// Set 'info' as our default log-level.
			logrus.SetLevel(logrus.InfoLevel)
		}

		return nil
	}

	// vmbox-rootfs execution.
	app.Action = func(ctx *cli.Context) error {

		spec, err := loadSpec(ctx.GlobalString("spec"))
		if err != nil {
			logrus.Fatalf("Could not load configuration: %v. Exiting ...", err)
		}

		// Initialize vmbox-rootfs' services.

		var syscallService = sysio.NewSyscallService()

		var mountService = mount.NewMountService()
		mountService.Setup(syscallService)

		var deviceService = device.NewDeviceService()
		deviceService.Setup(syscallService)

		var rootfsService = rootfs.NewRootfsService()
		rootfsService.Setup(syscallService, mountService, deviceService)

		var discoveryService = cgroup.NewDiscoveryService()
		discoveryService.Setup(mountService)

		cpath, cgMounts, err := discoveryService.Discover()
		if err != nil {
			// A guest without a mounted cgroup hierarchy can still run
			// containers that don't ask for one.
			logrus.Warnf("Cgroup discovery failed: %v", err)
			cpath, cgMounts = map[string]string{}, map[string]string{}
		}

		if err := rootfsService.InitRootfs(
			spec, cpath, cgMounts, ctx.GlobalBool("bind-device")); err != nil {
			logrus.Fatalf("Rootfs construction failed: %v. Exiting ...", err)
		}

		if !ctx.GlobalBool("no-pivot") {
			rootfsPath, err := sysio.Canonicalize(spec.Root.Path)
			if err != nil {
				logrus.Fatalf("Could not resolve rootfs path: %v. Exiting ...", err)
			}

			if ctx.GlobalBool("as-init") {
				err = rootfsService.MsMoveRoot(rootfsPath)
			} else {
				err = rootfsService.PivotRootfs(rootfsPath)
			}
			if err != nil {
				logrus.Fatalf("Root switch failed: %v. Exiting ...", err)
			}
		}

		if err := rootfsService.FinishRootfs(spec); err != nil {
			logrus.Fatalf("Rootfs lockdown failed: %v. Exiting ...", err)
		}

		logrus.Info("Container rootfs ready.")

		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Panic(err)
	}
}
