// Package schema describes the shape of audited entities.
//
// The host application builds one Entity descriptor per tracked type at
// startup, classifying every field into a closed set of kinds. Snapshots of
// entity state are carried as Records, which are plain value maps detached
// from whatever persistence layer produced them.
package schema
