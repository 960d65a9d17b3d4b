// Package sqerr defines the tagged error type shared by every layer of the
// SqPack/Excel reader: path parsing, index I/O, dat I/O and excel decoding
// all report failures through the same Kind + wrapped-cause shape.
package sqerr

// Kind identifies which stage of the pipeline produced an Error.
type Kind string

const (
	BadRepoFile  Kind = "bad_repo_file"
	BadCategory  Kind = "bad_category"
	BadExpansion Kind = "bad_expansion"
	BadPatch     Kind = "bad_patch"
	BadInnerPath Kind = "bad_inner_path"

	IndexSeek   Kind = "index_seek"
	IndexHeader Kind = "index_header"
	IndexEntry  Kind = "index_entry"

	DatSeek          Kind = "dat_seek"
	DatFileHeader    Kind = "dat_file_header"
	DatBlockHeader   Kind = "dat_block_header"
	DatBlockDecoding Kind = "dat_block_decoding"

	ExhRead            Kind = "exh_read"
	ExhNotFound        Kind = "exh_not_found"
	ExdNotFound        Kind = "exd_not_found"
	ExdSeek            Kind = "exd_seek"
	ExdFileHeader      Kind = "exd_file_header"
	ExdRowHeader       Kind = "exd_row_header"
	ExdSubRowHeader    Kind = "exd_subrow_header"
	ExdDeserialization Kind = "exd_deserialization"
	NotEnoughColumns   Kind = "not_enough_columns"

	TexFormat Kind = "tex_format"
	TexData   Kind = "tex_data"

	IO Kind = "io"
)

var messages = map[Kind]string{
	BadRepoFile:  "SqPack repository file name is invalid",
	BadCategory:  "SqPack inner file path contains invalid category identifier",
	BadExpansion: "SqPack inner file path contains invalid expansion identifier",
	BadPatch:     "SqPack inner file path contains invalid patch identifier",
	BadInnerPath: "SqPack inner file path is invalid",

	IndexSeek:   "failed to seek within .index2 file",
	IndexHeader: "failed to read .index2 header",
	IndexEntry:  "failed to read .index2 entry",

	DatSeek:          "failed to seek within .dat file",
	DatFileHeader:    "failed to read .dat inner file header",
	DatBlockHeader:   "failed to read .dat inner file block header",
	DatBlockDecoding: "failed to decode .dat inner file block",

	ExhRead:            "failed to read .exh file",
	ExhNotFound:        "unable to find .exh file",
	ExdNotFound:        "unable to find .exd file",
	ExdSeek:            "failed to seek within .exd file",
	ExdFileHeader:      "failed to read .exd file header",
	ExdRowHeader:       "failed to read .exd row header",
	ExdSubRowHeader:    "failed to read .exd subrow header",
	ExdDeserialization: "failed to deserialize .exd row",
	NotEnoughColumns:   "record requests more cells than the schema provides",

	TexFormat: "image format is not implemented",
	TexData:   "image pixel data is invalid or corrupted",

	IO: "I/O error",
}

// Error is the single error type returned across package boundaries. Detail
// carries context a static Kind message can't (a path, a sheet name, a
// format id); Err is the wrapped I/O or binary-decoding cause, if any.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := messages[e.Kind]
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a bare Error carrying only a Kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap builds an Error that chains a lower-level cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithDetail builds an Error carrying caller-supplied context instead of (or
// alongside) a wrapped cause.
func WithDetail(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Is reports whether err is an *Error of the given Kind, so callers can write
// errors.Is(err, sqerr.New(sqerr.ExdNotFound)) style checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
