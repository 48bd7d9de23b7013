package builder

import (
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/qobs-build/ccbuild/internal/builder/msvc"
)

//
// structures for .vcxproj
//

type vsProject struct {
	XMLName        xml.Name `xml:"Project"`
	DefaultTargets string   `xml:"DefaultTargets,attr"`
	ToolsVersion   string   `xml:"ToolsVersion,attr"`
	XMLNS          string   `xml:"xmlns,attr"`
	// MSBuild evaluates the children in order, so they are kept in one list.
	Nodes []any `xml:",any"`
}

type vsItemGroup struct {
	XMLName               xml.Name                 `xml:"ItemGroup"`
	Label                 string                   `xml:"Label,attr,omitempty"`
	ProjectConfigurations []vsProjectConfiguration `xml:"ProjectConfiguration,omitempty"`
	ClCompiles            []vsClCompile            `xml:"ClCompile,omitempty"`
}

type vsProjectConfiguration struct {
	Include       string `xml:"Include,attr"`
	Configuration string `xml:"Configuration"`
	Platform      string `xml:"Platform"`
}

type vsClCompile struct {
	Include string `xml:"Include,attr"`
}

type vsPropertyGroup struct {
	XMLName                      xml.Name `xml:"PropertyGroup"`
	Label                        string   `xml:"Label,attr,omitempty"`
	ProjectGuid                  string   `xml:"ProjectGuid,omitempty"`
	Keyword                      string   `xml:"Keyword,omitempty"`
	WindowsTargetPlatformVersion string   `xml:"WindowsTargetPlatformVersion,omitempty"`
	ProjectName                  string   `xml:"ProjectName,omitempty"`
	ConfigurationType            string   `xml:"ConfigurationType,omitempty"`
	PlatformToolset              string   `xml:"PlatformToolset,omitempty"`
	CharacterSet                 string   `xml:"CharacterSet,omitempty"`
	OutDir                       string   `xml:"OutDir,omitempty"`
	IntDir                       string   `xml:"IntDir,omitempty"`
	TargetName                   string   `xml:"TargetName,omitempty"`
	TargetExt                    string   `xml:"TargetExt,omitempty"`
}

type vsImport struct {
	XMLName xml.Name `xml:"Import"`
	Project string   `xml:"Project,attr"`
}

type vsItemDefinitionGroup struct {
	XMLName   xml.Name     `xml:"ItemDefinitionGroup"`
	ClCompile vsCompileDef `xml:"ClCompile"`
}

type vsCompileDef struct {
	WarningLevel                 string `xml:"WarningLevel"`
	AdditionalIncludeDirectories string `xml:"AdditionalIncludeDirectories"`
	PreprocessorDefinitions      string `xml:"PreprocessorDefinitions"`
	Optimization                 string `xml:"Optimization"`
	RuntimeLibrary               string `xml:"RuntimeLibrary"`
	DebugInformationFormat       string `xml:"DebugInformationFormat,omitempty"`
}

//
// generator
//

// ProjectGUID is the project GUID of a library called name. It only
// depends on the name, so regenerating keeps solutions that reference the
// project valid.
func ProjectGUID(name string) string {
	return strings.ToUpper(uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String())
}

// WriteVS2022 renders p as a Visual Studio 2022 static library project.
// Paths are written relative to p.OutDir, where the project file belongs.
// The single configuration is the one p was planned for.
func WriteVS2022(w io.Writer, p *Plan) error {
	if p.Tool.Cuda {
		return newError(UnsupportedTargetHost, nil, "Visual Studio projects cannot build CUDA sources")
	}
	platform, err := vsPlatform(p.Target)
	if err != nil {
		return err
	}
	config := "Release"
	if p.Debug {
		config = "Debug"
	}

	clCompiles := make([]vsClCompile, 0, len(p.Objects))
	for _, job := range p.Objects {
		clCompiles = append(clCompiles, vsClCompile{Include: vsPath(p.OutDir, job.Source)})
	}

	compile := vsCompileDef{
		WarningLevel:                 "Level3",
		AdditionalIncludeDirectories: vsIncludes(p.OutDir, p.Includes),
		PreprocessorDefinitions:      vsDefines(p.Defines),
		Optimization:                 vsOptimization(p.OptLevel),
		RuntimeLibrary:               "MultiThreadedDLL",
	}
	if p.StaticCRT {
		compile.RuntimeLibrary = "MultiThreaded"
	}
	if p.Debug {
		compile.DebugInformationFormat = "OldStyle"
	}

	project := vsProject{
		DefaultTargets: "Build",
		ToolsVersion:   "17.0",
		XMLNS:          "http://schemas.microsoft.com/developer/msbuild/2003",
		Nodes: []any{
			vsItemGroup{
				Label: "ProjectConfigurations",
				ProjectConfigurations: []vsProjectConfiguration{
					{Include: config + "|" + platform, Configuration: config, Platform: platform},
				},
			},
			vsPropertyGroup{
				Label:                        "Globals",
				ProjectGuid:                  "{" + ProjectGUID(p.Name) + "}",
				Keyword:                      "Win32Proj",
				WindowsTargetPlatformVersion: "10.0",
				ProjectName:                  p.Name,
			},
			vsImport{Project: `$(VCTargetsPath)\Microsoft.Cpp.Default.props`},
			vsPropertyGroup{
				Label:             "Configuration",
				ConfigurationType: "StaticLibrary",
				PlatformToolset:   "v143",
				CharacterSet:      "Unicode",
			},
			vsImport{Project: `$(VCTargetsPath)\Microsoft.Cpp.props`},
			vsPropertyGroup{
				OutDir:     `$(ProjectDir)`,
				IntDir:     `$(ProjectDir)` + p.Name + `\$(Configuration)\`,
				TargetName: p.Name,
				TargetExt:  ".lib",
			},
			vsItemDefinitionGroup{ClCompile: compile},
			vsItemGroup{ClCompiles: clCompiles},
			vsImport{Project: `$(VCTargetsPath)\Microsoft.Cpp.targets`},
		},
	}

	output, err := xml.MarshalIndent(project, "", "  ")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header+string(output)+"\n"); err != nil {
		return err
	}
	return nil
}

func vsPlatform(t Triple) (string, error) {
	arch, ok := msvc.Arch(t.Arch)
	if !ok {
		return "", newError(UnsupportedTargetHost, nil, "Visual Studio has no platform for %s", t.Raw)
	}
	switch arch {
	case "x86":
		return "Win32", nil
	case "x64":
		return arch, nil
	}
	return strings.ToUpper(arch), nil
}

// vsPath makes path relative to the project directory, with backslashes.
func vsPath(projectDir, path string) string {
	if rel, err := filepath.Rel(projectDir, path); err == nil {
		path = rel
	}
	return strings.ReplaceAll(path, "/", `\`)
}

func vsIncludes(projectDir string, dirs []string) string {
	var includes []string
	for _, dir := range dirs {
		includes = append(includes, vsPath(projectDir, dir))
	}
	return strings.Join(append(includes, "%(AdditionalIncludeDirectories)"), ";")
}

func vsDefines(defines []Define) string {
	var out []string
	for _, d := range defines {
		if d.Value != nil {
			out = append(out, d.Name+"="+*d.Value)
		} else {
			out = append(out, d.Name)
		}
	}
	return strings.Join(append(out, "%(PreprocessorDefinitions)"), ";")
}

func vsOptimization(level string) string {
	switch level {
	case "0":
		return "Disabled"
	case "1", "s", "z":
		return "MinSpace"
	}
	return "MaxSpeed"
}
