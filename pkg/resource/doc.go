/*
Package resource translates human resource strings into engine-native
limit values.

All functions are total: unparsable input degrades to "no limit" (absence,
not zero) with a structured warning, and never corrupts an engine command.
CPU accepts fractional cores ("0.5") and milli-notation ("500m"); memory
accepts Docker-style suffixes ("512m", "2g"). Port maps normalize host
port 0 to auto-assign, and an empty map yields no port configuration at
all rather than an explicit empty one.
*/
package resource
