package chunk

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/arloliu/diagcap/errs"
	"github.com/arloliu/diagcap/format"
)

// Reference is the flattened reference document of a chunk: the metric catalog plus the
// absolute value of every metric at the first sample.
type Reference struct {
	Names  []string
	Types  []format.MetricType
	Values []int64
}

// Len returns the number of flattened metrics.
func (r *Reference) Len() int {
	return len(r.Names)
}

// FlattenReference walks a reference document depth-first and emits one metric per numeric
// leaf.
//
// Nested documents and arrays contribute dot-joined names ("serverStatus.mem.resident",
// "systemMetrics.cpus.0.user_ms"). Doubles are truncated to int64, booleans become 0 or 1,
// datetimes keep their millisecond value and a timestamp produces two metrics, "<name>.t" and
// "<name>.i". Strings, binaries, object ids and every other type are not sampled and are
// skipped, exactly as the capture writer skips them when it emits deltas.
//
// Returns errs.ErrInvalidReference if the document or any nested document is malformed.
func FlattenReference(doc bsoncore.Document) (*Reference, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidReference, err)
	}

	ref := &Reference{}
	if err := ref.walk(doc, ""); err != nil {
		return nil, err
	}

	return ref, nil
}

func (r *Reference) walk(doc bsoncore.Document, prefix string) error {
	elems, err := doc.Elements()
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidReference, err)
	}

	for _, elem := range elems {
		name := elem.Key()
		if prefix != "" {
			name = prefix + "." + name
		}

		v := elem.Value()
		switch v.Type {
		case bsontype.Double:
			r.add(name, format.MetricDouble, int64(v.Double()))
		case bsontype.Int32:
			r.add(name, format.MetricInt32, int64(v.Int32()))
		case bsontype.Int64:
			r.add(name, format.MetricInt64, v.Int64())
		case bsontype.Boolean:
			var b int64
			if v.Boolean() {
				b = 1
			}
			r.add(name, format.MetricBool, b)
		case bsontype.DateTime:
			r.add(name, format.MetricDateTime, v.DateTime())
		case bsontype.Timestamp:
			t, i := v.Timestamp()
			r.add(name+".t", format.MetricTimestamp, int64(t))
			r.add(name+".i", format.MetricTimestamp, int64(i))
		case bsontype.EmbeddedDocument, bsontype.Array:
			// Arrays share the document layout with "0", "1", ... as keys.
			if err := r.walk(bsoncore.Document(v.Data), name); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Reference) add(name string, typ format.MetricType, v int64) {
	r.Names = append(r.Names, name)
	r.Types = append(r.Types, typ)
	r.Values = append(r.Values, v)
}
