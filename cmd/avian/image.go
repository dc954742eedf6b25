package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/avian/finder"
)

var imageAll bool

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Build and list class images",
}

var imageBuildCmd = &cobra.Command{
	Use:   "build <out> <classpath>",
	Short: "Pack the classes of a class path into an image",
	Long: `Read every class file on the class path, in parallel, and write them to
a single image usable as a boot or application class path entry. Earlier
class path entries shadow later ones.`,
	Args: cobra.ExactArgs(2),
	RunE: runImageBuild,
}

var imageListCmd = &cobra.Command{
	Use:   "list <image>",
	Short: "List the entries of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := finder.OpenImage(args[0])
		if err != nil {
			return err
		}
		names, _ := img.Names()
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

func init() {
	imageBuildCmd.Flags().BoolVar(&imageAll, "all", false, "include resources other than class files")
	imageCmd.AddCommand(imageBuildCmd, imageListCmd)
	rootCmd.AddCommand(imageCmd)
}

func runImageBuild(cmd *cobra.Command, args []string) error {
	out, classpath := args[0], args[1]
	src, err := finder.Open(classpath)
	if err != nil {
		return err
	}
	defer src.Close()

	keep := func(name string) bool { return strings.HasSuffix(name, ".class") }
	if imageAll {
		keep = nil
	}
	b := finder.NewImageBuilder()
	if err := finder.BuildImage(cmd.Context(), b, src, keep); err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := b.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", b.Len(), out)
	return nil
}
