// Package catalog defines the records exchanged between pipeline stages:
// items and their stage metadata, groups, and consensus records.
//
// Field values that a model may legitimately leave undetermined use Text,
// which serializes its zero value as JSON null. List fields always serialize
// as arrays, never null.
package catalog
