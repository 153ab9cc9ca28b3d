// Package catalog provides an in-process catalog snapshot loaded from YAML.
//
// A Catalog implements every collaborator the engine reads from: entity
// lookup, parent lookup per relation kind, the stock source and the
// indexability determiner. The CLI and the scenario harness use it in
// place of a live system of record.
package catalog
