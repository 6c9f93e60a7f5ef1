// Command epochasm is the hosting driver spec §6 explicitly leaves
// out of scope: a thin CLI over the assemble/disassemble/trace
// surface the epoch package exposes, in the shape of the teacher's
// own cmd/main.go (one binary, one entrypoint) upgraded from flag to
// cobra.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/epochlang/epoch"
)

const defaultWritePermission = 0644 // -rw-r--r--

var log = logrus.WithField("component", "epochasm")

func main() {
	root := &cobra.Command{
		Use:   "epochasm",
		Short: "Assemble, disassemble, and run Epoch bytecode streams",
	}
	root.AddCommand(assembleCmd(), disassembleCmd(), traceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func assembleCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "assemble <listing.epasm>",
		Short: "Assemble a textual listing into an EPBC bytecode stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read listing: %w", err)
			}
			code, err := epoch.Assemble(string(src))
			if err != nil {
				return fmt.Errorf("assemble: %w", err)
			}
			bc, err := epoch.Encode(&epoch.Program{Code: code})
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			if err := os.WriteFile(outputPath, bc.Bytes, defaultWritePermission); err != nil {
				return fmt.Errorf("write bytecode: %w", err)
			}
			log.WithFields(logrus.Fields{"instructions": len(code), "out": outputPath}).Info("assembled")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "/dev/stdout", "path to write the encoded bytecode")
	return cmd
}

func disassembleCmd() *cobra.Command {
	var (
		outputPath string
		color      bool
	)
	cmd := &cobra.Command{
		Use:   "disassemble <program.epbc>",
		Short: "Disassemble an EPBC bytecode stream into a textual listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := loadBytecode(args[0])
			if err != nil {
				return err
			}
			var listing string
			if color {
				listing = epoch.HighlightDisassemble(code)
			} else {
				listing = epoch.Disassemble(code)
			}
			if err := os.WriteFile(outputPath, []byte(listing), defaultWritePermission); err != nil {
				return fmt.Errorf("write listing: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "/dev/stdout", "path to write the listing")
	cmd.Flags().BoolVar(&color, "color", false, "colorize the listing with the default ANSI theme")
	return cmd
}

func traceCmd() *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "trace <program.epbc>",
		Short: "Run an EPBC bytecode stream with vm.trace step dumps enabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := loadBytecode(args[0])
			if err != nil {
				return err
			}
			types := epoch.NewTypeTable()
			cfg := epoch.NewConfig()
			cfg.SetBool("vm.trace", true)
			vm := epoch.NewVM(code, types, cfg)

			if entry == "" {
				err = vm.RunProgram()
			} else {
				err = vm.Run(entry)
			}
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			log.Info("halted")
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "invoke this named entity instead of running the program from its first instruction")
	return cmd
}

func loadBytecode(path string) ([]epoch.Instruction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bytecode: %w", err)
	}
	code, err := epoch.Decode(&epoch.Bytecode{Bytes: raw})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return code, nil
}
