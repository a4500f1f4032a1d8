// Package catalog loads the question catalogue that defines the parts and
// questions of a speaking test, and orders a job's recorded segments by it.
//
// Segment keys encode (part, question), for example "p1q2" or "p2". The
// catalogue is YAML; a three-part default is embedded.
package catalog
