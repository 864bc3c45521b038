/*
Package interval defines the genomic range type shared by the track pyramid

	packages, along with region-string parsing and the overlap/containment
	predicates used by range reads and subset filters.
	Positions are int64; ranges are 0-based half-open unless a function says
	otherwise.
*/
package interval
