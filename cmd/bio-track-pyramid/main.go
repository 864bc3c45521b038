// Command bio-track-pyramid builds multi-resolution pyramids of bedGraph
// coverage and bedpe loop files, and answers range queries against them.
//
//	bio-track-pyramid index [-config opts.yaml] [-depth 5] sample.bedgraph contacts.bedpe
//	bio-track-pyramid query -samples 800 sample.bedgraph chr3:1-2000000
//	bio-track-pyramid query -subset 'chr3:100-200;chr3:5000-5100' contacts.bedpe 3:1-100000
//	bio-track-pyramid levels sample.bedgraph
//
// Level files are written next to the input, in the ".glue_index" directory
// unless configured otherwise.
package main

import (
	"github.com/grailbio/base/grail"
	"github.com/grailbio/trackpyramid/cmd/bio-track-pyramid/cmd"
)

func main() {
	shutdown := grail.Init()
	defer shutdown()
	cmd.Run()
}
