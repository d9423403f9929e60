// Package cli contains the Cobra commands of the fmq tool.
package cli
