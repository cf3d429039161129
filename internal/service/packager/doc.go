// Package packager produces the versioned release archives of an extension.
//
// Every target platform and the source platform get one archive named
// {project}_v{version}_{platform}.zip. Each archive is built from a scratch
// directory populated with the platform's files and compressed by the host's
// native archiver. A YAML release description with SHA-512 checksums is
// written next to the archives.
package packager
