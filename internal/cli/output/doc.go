// Package output renders wamesh-cli results as aligned tables, JSON or
// YAML. Table output reads column names from json struct tags so the
// three formats agree on field names.
package output
