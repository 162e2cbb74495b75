// Package dataprocessing reads tabular input files for loader stages.
//
// A file is either CSV or an Excel workbook (.xlsx). The first non-empty row
// is the header; columns are looked up by normalized header name so input
// files may order their columns freely.
//
// # Usage
//
//	table, err := dataprocessing.ParseFile("iris.csv")
//	if err != nil {
//	    return err
//	}
//	for row := range table.Rows() {
//	    length, err := row.Float("sepal_length")
//	    ...
//	}
package dataprocessing
