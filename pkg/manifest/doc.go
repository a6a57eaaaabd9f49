// Package manifest records the outcome of downloads in a JSON file.
//
// Each destination path has one record with the source URL, bytes written,
// expected total and whether the transfer completed. Partial transfers are
// recorded too, so a later run can tell which files need fetching again.
//
// Without an explicit path the manifest lives in the platform data directory:
//   - Linux: ~/.local/share/moonfetch/manifest.json
//   - macOS: ~/Library/Application Support/moonfetch/manifest.json
//   - Windows: %APPDATA%/moonfetch/manifest.json
//
// Writes go to a temporary file that is synced and renamed over the old one.
package manifest
