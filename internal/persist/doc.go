// Package persist saves and loads pose stores.
//
// Every format writes the same table: the description (identity),
// origin_path, and current_path columns followed by each score column with
// its kind, so that Load(Save(s)) reproduces s including Missing cells.
// Supported formats are csv, json, yaml, sqlite, and gob. Writes land in a
// temp file next to the destination and are renamed into place.
package persist
