package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/livecall/pkg/store"
)

// ErrUnknownTool is returned when the model calls a name outside the tool set.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Kind enumerates the tools a live call can invoke.
type Kind int

const (
	KindPersistArtifact Kind = iota + 1
	KindOpenImageSurface
)

// String returns the internal name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPersistArtifact:
		return "persist_artifact"
	case KindOpenImageSurface:
		return "open_image_surface"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Wire names. These are part of the model-facing contract and must not change.
const (
	NamePersistArtifact  = "salvar_ativo_no_stage"
	NameOpenImageSurface = "abrir_estudio_de_imagem"
)

// PersistArtifactArgs are the decoded arguments of [KindPersistArtifact].
type PersistArtifactArgs struct {
	Name    string
	Content string
	Kind    store.ArtifactKind
}

// OpenImageSurfaceArgs are the decoded arguments of [KindOpenImageSurface].
type OpenImageSurfaceArgs struct {
	Prompt string
}

// entry binds a wire name to its kind, declaration and argument decoder.
type entry struct {
	kind   Kind
	decl   *genai.FunctionDeclaration
	decode func(raw map[string]any) (any, error)
}

var table = map[string]entry{
	NamePersistArtifact: {
		kind: KindPersistArtifact,
		decl: &genai.FunctionDeclaration{
			Name:        NamePersistArtifact,
			Description: "CRITICAL: use ONLY after the user explicitly confirms. Saves a document or code file to the stage.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"nome":     {Type: genai.TypeString, Description: "Semantic file name (e.g. project_roadmap.md)."},
					"conteudo": {Type: genai.TypeString, Description: "Full content."},
					"tipo":     {Type: genai.TypeString, Enum: []string{"documento", "codigo"}, Description: "Category."},
				},
				Required: []string{"nome", "conteudo", "tipo"},
			},
		},
		decode: decodePersistArtifact,
	},
	NameOpenImageSurface: {
		kind: KindOpenImageSurface,
		decl: &genai.FunctionDeclaration{
			Name:        NameOpenImageSurface,
			Description: "Opens the image generation studio. Use ONLY when the user asks for an image.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"prompt_sugerido": {Type: genai.TypeString, Description: "Suggested prompt, in English."},
				},
				Required: []string{"prompt_sugerido"},
			},
		},
		decode: decodeOpenImageSurface,
	},
}

// order fixes the declaration order sent to the model.
var order = []string{NamePersistArtifact, NameOpenImageSurface}

// Declarations returns the tool set offered to the model.
func Declarations() []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(order))
	for _, name := range order {
		decls = append(decls, table[name].decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Lookup resolves a wire name to its kind.
func Lookup(name string) (Kind, bool) {
	e, ok := table[name]
	return e.kind, ok
}

// Decode resolves a wire name and decodes its raw arguments into the typed
// payload for that kind.
func Decode(name string, raw map[string]any) (Kind, any, error) {
	e, ok := table[name]
	if !ok {
		return 0, nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}
	args, err := e.decode(raw)
	if err != nil {
		return e.kind, nil, fmt.Errorf("tools: %s: %w", name, err)
	}
	return e.kind, args, nil
}

// remarshal moves loosely typed JSON arguments into a tagged struct.
func remarshal(raw map[string]any, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func decodePersistArtifact(raw map[string]any) (any, error) {
	var w struct {
		Nome     string `json:"nome"`
		Conteudo string `json:"conteudo"`
		Tipo     string `json:"tipo"`
	}
	if err := remarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if w.Nome == "" {
		return nil, errors.New("argument nome is required")
	}
	kind := store.KindDocument
	if w.Tipo == "codigo" {
		kind = store.KindCode
	}
	return PersistArtifactArgs{Name: w.Nome, Content: w.Conteudo, Kind: kind}, nil
}

func decodeOpenImageSurface(raw map[string]any) (any, error) {
	var w struct {
		Prompt string `json:"prompt_sugerido"`
	}
	if err := remarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return OpenImageSurfaceArgs{Prompt: w.Prompt}, nil
}
