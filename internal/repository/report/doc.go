// Package report persists a bootstrap run report.
//
// The FileRepository stores the report as protobuf JSON built from a
// structpb.Struct, so any protojson reader can consume it without this
// module's types.
package report
