/*
Mailstash - Self-hostable email archiving service.
Copyright © 2024-2026 Mailstash contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package ctl

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mailstash/mailstash"
	parser "github.com/mailstash/mailstash/framework/cfgparser"
	"github.com/mailstash/mailstash/framework/config"
	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/routine"
	"github.com/mailstash/mailstash/internal/share"
)

func closeIfNeeded(i interface{}) {
	if c, ok := i.(io.Closer); ok {
		c.Close()
	}
}

// Parsing the configuration registers module instances globally, so it
// has to happen at most once per process even when a command opens
// several blocks.
var (
	loadedGlobals map[string]interface{}
	loadedMods    []mailstash.ModInfo
)

func loadCfgModules(ctx *cli.Context) error {
	if loadedMods != nil {
		return nil
	}

	cfgPath := ctx.String("config")
	if cfgPath == "" {
		return cli.Exit("Error: config is required", 2)
	}
	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: failed to open config: %v", err), 2)
	}
	defer cfgFile.Close()
	cfgNodes, err := parser.Read(cfgFile, cfgFile.Name())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: failed to parse config: %v", err), 2)
	}

	globals, cfgNodes, err := mailstash.ReadGlobals(cfgNodes)
	if err != nil {
		return err
	}

	if err := mailstash.InitDirs(); err != nil {
		return err
	}

	module.NoRun = true
	endpoints, mods, err := mailstash.RegisterModules(globals, cfgNodes)
	if err != nil {
		return err
	}

	loadedGlobals = globals
	loadedMods = append(mods, endpoints...)
	return nil
}

func getCfgBlockModule(ctx *cli.Context, cfgBlock string) (map[string]interface{}, *mailstash.ModInfo, error) {
	if err := loadCfgModules(ctx); err != nil {
		return nil, nil, err
	}

	if ctx.IsSet("cfg-block") {
		cfgBlock = ctx.String("cfg-block")
	}
	if cfgBlock == "" {
		return nil, nil, cli.Exit("Error: cfg-block is required", 2)
	}
	var mod mailstash.ModInfo
	for _, m := range loadedMods {
		if m.Instance.InstanceName() == cfgBlock {
			mod = m
			break
		}
	}
	if mod.Instance == nil {
		return nil, nil, cli.Exit(fmt.Sprintf("Error: unknown configuration block: %s", cfgBlock), 2)
	}

	return loadedGlobals, &mod, nil
}

func initCfgBlockModule(ctx *cli.Context, cfgBlock string) (module.Module, error) {
	globals, mod, err := getCfgBlockModule(ctx, cfgBlock)
	if err != nil {
		return nil, err
	}

	name := mod.Instance.InstanceName()
	if !module.Initialized[name] {
		module.Initialized[name] = true
		if err := mod.Instance.Init(config.NewMap(globals, mod.Cfg)); err != nil {
			return nil, fmt.Errorf("Error: module initialization failed: %w", err)
		}
	}

	return mod.Instance, nil
}

func openArchive(ctx *cli.Context) (*archive.Archive, error) {
	mod, err := initCfgBlockModule(ctx, "archive")
	if err != nil {
		return nil, err
	}

	ar, ok := mod.(*archive.Archive)
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("Error: configuration block %s is not an archive writer", mod.InstanceName()), 2)
	}
	return ar, nil
}

func openScheduler(ctx *cli.Context) (*routine.Scheduler, error) {
	mod, err := initCfgBlockModule(ctx, "scheduler")
	if err != nil {
		return nil, err
	}

	sched, ok := mod.(*routine.Scheduler)
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("Error: configuration block %s is not a scheduler", mod.InstanceName()), 2)
	}
	return sched, nil
}

func openShare(ctx *cli.Context) (*share.Share, error) {
	mod, err := initCfgBlockModule(ctx, "share")
	if err != nil {
		return nil, err
	}

	sh, ok := mod.(*share.Share)
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("Error: configuration block %s is not a sharing module", mod.InstanceName()), 2)
	}
	return sh, nil
}
