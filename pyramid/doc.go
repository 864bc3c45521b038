// Package pyramid holds the plumbing shared by the coverage and loop
// pyramids: build options, level addressing, the presence check and the
// classification of errors.
//
// A pyramid over an input file is a set of artifacts in an index directory
// next to the input.  Level k holds the input downsampled by Factor^(k+1);
// the Raw level holds the input itself.  For input /data/x.bedgraph with
// factor 10 and depth 2, the layout is
//
//	/data/.glue_index/x.bedgraph.bgz           (+ .gti)  Raw
//	/data/.glue_index/x.bedgraph.dec_10_0.bgz  (+ .gti)  level 0, 10x
//	/data/.glue_index/x.bedgraph.dec_10_1.bgz  (+ .gti)  level 1, 100x
//
// A pyramid is built once and is immutable afterwards.
package pyramid
