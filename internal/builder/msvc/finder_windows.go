//go:build windows

package msvc

import (
	"path/filepath"

	"github.com/heaths/go-vssetup"
	"golang.org/x/sys/windows/registry"
)

// NewFinder combines the setup configuration API (Visual Studio 2017 and
// later) with the SxS\VC7 registry key (2013, 2015).
func NewFinder() Finder {
	return windowsFinder{}
}

type windowsFinder struct{}

func (windowsFinder) Installations() ([]Installation, error) {
	var out []Installation

	instances, err := vssetup.Instances(false)
	if err == nil {
		for _, inst := range instances {
			path, perr := inst.InstallationPath()
			version := instanceVersion(inst)
			inst.Close()
			if perr != nil || version == "" {
				continue
			}
			out = append(out, Installation{Version: version, Root: path})
		}
	}

	out = append(out, registryInstallations()...)
	if len(out) == 0 && err != nil {
		return nil, err
	}
	return out, nil
}

// instanceVersion returns the major version of the product package, falling
// back to the installation name ("VisualStudio/16.11.5+31729.503").
func instanceVersion(inst *vssetup.Instance) string {
	if p, err := inst.Product(); err == nil {
		v, verr := p.Version()
		p.Close()
		if major := majorVersion(v); verr == nil && major != "" {
			return major
		}
	}
	name, err := inst.InstallationName()
	if err != nil {
		return ""
	}
	return majorVersion(name)
}

func registryInstallations() []Installation {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SOFTWARE\Microsoft\VisualStudio\SxS\VC7`,
		registry.QUERY_VALUE|registry.WOW64_32KEY)
	if err != nil {
		return nil
	}
	defer key.Close()

	names, err := key.ReadValueNames(0)
	if err != nil {
		return nil
	}
	var out []Installation
	for _, name := range names {
		vcDir, _, err := key.GetStringValue(name)
		if err != nil {
			continue
		}
		major := majorVersion(name)
		// the value points at <root>\VC\
		root := filepath.Dir(filepath.Clean(vcDir))
		out = append(out, Installation{Version: major, Root: root})
	}
	return out
}

func (windowsFinder) WindowsKits() (kit10, kit81 string) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SOFTWARE\Microsoft\Windows Kits\Installed Roots`,
		registry.QUERY_VALUE|registry.WOW64_32KEY)
	if err != nil {
		return "", ""
	}
	defer key.Close()

	kit10, _, _ = key.GetStringValue("KitsRoot10")
	kit81, _, _ = key.GetStringValue("KitsRoot81")
	return cleanPath(kit10), cleanPath(kit81)
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
