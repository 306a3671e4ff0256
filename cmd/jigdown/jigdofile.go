package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jigimage/jigimage/pkg/md5hash"
	"github.com/jigimage/jigimage/pkg/resolver"
)

// parseJigdo reads the minimal subset of the INI-like .jigdo textual
// manifest format this demo CLI needs: [Image], [Parts], and [Servers]
// sections. This is deliberately not part of the core library — the real
// .jigdo grammar (comments, line continuation, [Jigdo] generator metadata)
// is out of scope and left to a real parser; this is just enough to drive
// an end-to-end demonstration of the core against a hand-written manifest.
func parseJigdo(r io.Reader) (*resolver.Manifest, error) {
	m := &resolver.Manifest{Servers: make(map[string]*resolver.Server)}

	section := ""
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch section {
		case "Image":
			switch key {
			case "Filename":
				m.ImageFilename = value
			case "Template":
				m.TemplateFilename = value
			case "Template-MD5Sum":
				digest, err := md5hash.DecodeBase22(value)
				if err != nil {
					return nil, fmt.Errorf("Template-MD5Sum: %w", err)
				}
				m.TemplateMD5 = digest
			}

		case "Servers":
			m.Servers[key] = mergeServerValue(m.Servers[key], key, value)

		case "Parts":
			digest, err := md5hash.DecodeBase22(key)
			if err != nil {
				return nil, fmt.Errorf("part %q: %w", key, err)
			}
			serverName, relPath, ok := strings.Cut(value, ":")
			if !ok {
				return nil, fmt.Errorf("part %q: expected ServerName:relative/path, got %q", key, value)
			}
			m.Files = append(m.Files, &resolver.FileRef{
				MD5:          digest,
				RelativePath: relPath,
				ServerRef:    serverName,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := resolver.Load(m); err != nil {
		return nil, err
	}
	return m, nil
}

func mergeServerValue(existing *resolver.Server, name, value string) *resolver.Server {
	s := existing
	if s == nil {
		s = &resolver.Server{Name: name}
	}
	if strings.HasPrefix(value, "file://") || strings.HasPrefix(value, "/") {
		s.LocalDirs = append(s.LocalDirs, strings.TrimPrefix(value, "file://"))
	} else {
		s.RemoteMirrors = append(s.RemoteMirrors, value)
	}
	return s
}
