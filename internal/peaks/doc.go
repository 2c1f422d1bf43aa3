// Package peaks reads the extractor's feature table and reduces it to one
// row per reference compound.
package peaks
