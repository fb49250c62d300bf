package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaSource constrains every field of whiteplanes.toml. The definition is
// closed, so misspelled keys that slip past the decoder fail here too.
const schemaSource = `
#Manifest: {
	run: {
		"max-steps": int & >=0
		timeout:     string & =~"^(0|([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$"
		trace:       bool
	}
	log: {
		verbosity: int & >=0 & <=5
		file:      string
	}
	cache: path: string
	server: {
		addr:        string & !=""
		"grpc-addr": string
		workers:     int & >=1 & <=256
	}
}
`

var (
	schemaMu   sync.Mutex // cue values are not safe for concurrent use
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("whiteplanes.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("manifest: compile schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Manifest"))
		schemaErr = schemaDef.Err()
	})
	return schemaCtx, schemaDef, schemaErr
}

// validateSchema unifies m with the schema and requires a concrete result.
func validateSchema(m *Manifest) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	schemaMu.Lock()
	defer schemaMu.Unlock()
	val := ctx.Encode(m)
	if err := val.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
