// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/fpath"
	"storj.io/drivesweep"
	"storj.io/drivesweep/drivesweepdb"
	"storj.io/drivesweep/gateway/httpdrive"
	"storj.io/private/cfgstruct"
	"storj.io/private/process"
)

// RunConfig is the full run configuration of the service.
type RunConfig struct {
	drivesweep.Config
	Drive httpdrive.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "drivesweep",
		Short: "Drive organization service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the drive organization service",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	runCfg   RunConfig
	setupCfg RunConfig

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storj", "drivesweep")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for drivesweep configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := drivesweepdb.Open(log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error opening database on %s: %+v", runCfg.Database, err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	driver := httpdrive.New(runCfg.Drive, nil)

	peer, err := drivesweep.New(log, db, driver, nil, runCfg.Config)
	if err != nil {
		return err
	}

	runErr := peer.Run(ctx)
	closeErr := peer.Close()
	return errs.Combine(runErr, closeErr)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("drivesweep configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func main() {
	process.Exec(rootCmd)
}
