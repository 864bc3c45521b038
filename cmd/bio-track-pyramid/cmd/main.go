package cmd

import (
	"fmt"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

// pyramidFlags are the flags shared by every subcommand.
type pyramidFlags struct {
	config   *string
	factor   *int
	depth    *int
	stat     *string
	indexDir *string
}

func addPyramidFlags(cmd *cmdline.Command) pyramidFlags {
	return pyramidFlags{
		config: cmd.Flags.String("config", "", `YAML file of pyramid options. Keys are downsample_factor, depth,
index_dir, stat, budget and chrom_prefix. Flags override the file.`),
		factor:   cmd.Flags.Int("factor", 0, "Downsample factor between levels. 0 keeps the default (10)"),
		depth:    cmd.Flags.Int("depth", 0, "Number of decimated levels. 0 keeps the default (5 for bedGraph, 7 for bedpe)"),
		stat:     cmd.Flags.String("stat", "", "Value of a decimated coverage bin: 'max', 'mean' or 'legacy'"),
		indexDir: cmd.Flags.String("index-dir", "", "Directory of the level files, relative to the input's directory unless absolute"),
	}
}

func newCmdIndex() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "index",
		Short:    "Build the pyramids of bedGraph or bedpe files",
		ArgsName: "path...",
	}
	pf := addPyramidFlags(cmd)
	metricsPath := cmd.Flags.String("metrics", "", "If set, write build metrics in Prometheus text format to this path ('-' for stdout)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("index takes at least one path")
		}
		return index(vcontext.Background(), env.Stdout, pf, *metricsPath, argv)
	})
	return cmd
}

func newCmdQuery() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "query",
		Short: "Print the rows of a pyramid overlapping a region",
		Long: `
The region is 'chrom:first-last', 1-based and closed, or just 'chrom'. The
chromosome prefix (by default 'chr') is added when missing. Rows are printed
as TSV. Unless -level is given, the level is chosen from -samples for bedGraph
pyramids and from -target for bedpe pyramids.`,
		ArgsName: "path region",
	}
	pf := addPyramidFlags(cmd)
	qf := queryFlags{
		samples: cmd.Flags.Int("samples", 0, "Number of samples the region is drawn with (bedGraph). 0 means 1000"),
		target:  cmd.Flags.Int("target", 0, "Number of loops to aim for (bedpe). 0 means 100"),
		level:   cmd.Flags.String("level", "", "Read this level ('raw' or 0..depth-1) instead of choosing one"),
		subset:  cmd.Flags.String("subset", "", "Keep only rows inside these regions, separated by ';'"),
		bed:     cmd.Flags.String("subset-bed", "", "Keep only rows inside the intervals of this BED file. Overrides -subset"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("query takes path and region, but got %v", argv)
		}
		return query(vcontext.Background(), env.Stdout, pf, qf, argv[0], argv[1])
	})
	return cmd
}

func newCmdLevels() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "levels",
		Short:    "List the level files of a pyramid and whether they exist",
		ArgsName: "path",
	}
	pf := addPyramidFlags(cmd)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("levels takes one path, but got %v", argv)
		}
		return levels(vcontext.Background(), env.Stdout, pf, argv[0])
	})
	return cmd
}

// Run runs the bio-track-pyramid command line.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-track-pyramid",
			Short:    "Build and query multi-resolution pyramids of genomic tracks",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdIndex(),
				newCmdQuery(),
				newCmdLevels(),
			},
		})
}
