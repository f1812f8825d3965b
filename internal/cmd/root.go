// Package cmd provides the functionality necessary for CLI commands in sedlock.
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/build"
	"github.com/sedlock/sedlock/internal/config"
	"github.com/sedlock/sedlock/internal/contextual"
)

const shortLicenseText = "Licensed under the Apache License, Version 2.0."

// MainCommand provides the main program entrypoint that dispatches to utility subcommands.
func MainCommand() *cobra.Command {
	cmd := rootCommand()

	cmds := []*cobra.Command{
		statusCommand(),
		setupCommand(),
		passwdCommand(),
		lockCommand(),
		unlockCommand(),
		revertCommand(),
		revertPSIDCommand(),
		pbaWriteCommand(),
		pbaUSBCommand(),
		addUserCommand(),
		auditCommand(),
		escrowCommand(),
	}
	for i := range cmds {
		cmd.AddCommand(cmds[i])
	}

	return cmd
}

// rootCommand builds a root command object for program run.
func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sedlock",
		Short: "lifecycle management for Opal self-encrypting drives",
		Long: strings.TrimSpace(`
This command manages TCG Opal self-encrypting drives through sedutil-cli.

Drives can be taken ownership of, locked, unlocked, reverted and given a pre-boot
authentication image. Passphrases are never sent to the drive: a PBKDF2 digest
bound to the drive's serial number is used instead, and may be escrowed to a
removable volume for recovery.
`),
		Version:      build.Version,
		SilenceUsage: true,
	}

	versionTemplate := "{{.Name}} {{.Version}} [%s]\n\n%s\n"
	cmd.SetVersionTemplate(fmt.Sprintf(versionTemplate, build.CommitDate, shortLicenseText))

	var (
		verbose    bool
		configPath string
		flags      config.Config
	)
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging output")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	config.BindFlags(cmd.PersistentFlags(), &flags)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := logrus.InfoLevel
		if verbose {
			level = logrus.DebugLevel
		}
		setupLogging(level)

		c, err := config.Load(configPath, flags)
		if err != nil {
			return err
		}
		logrus.WithField("config", c).Debug("Loaded configuration")
		cmd.SetContext(contextual.WithConfig(cmd.Context(), c))

		return nil
	}

	return cmd
}

// setupLogging configures logrus to use the desired timestamp format and log level.
func setupLogging(level logrus.Level) {
	Formatter := &logrus.TextFormatter{}

	// Configure the formatter
	Formatter.TimestampFormat = time.RFC822
	Formatter.FullTimestamp = true

	// Set the desired log level
	logrus.SetLevel(level)

	logrus.SetFormatter(Formatter)
}
