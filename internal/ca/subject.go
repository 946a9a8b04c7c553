package ca

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// oidEmailAddress is the PKCS#9 emailAddress attribute (1.2.840.113549.1.9.1).
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// normalizeName marshals a distinguished name with explicit string tags: the
// emailAddress attribute as IA5String, everything else as PrintableString
// (UTF8String when the value is not printable-string legal). Downstream
// tools reject certificates whose email attribute carries the wrong tag, so
// both the authority certificate and every issued certificate go through
// this same encoding.
func normalizeName(name pkix.Name) ([]byte, error) {
	// Parsed names carry non-standard attributes (emailAddress among them)
	// only in Names, which ToRDNSequence ignores. Promote them so they
	// survive re-encoding.
	for _, atv := range name.Names {
		if isStandardAttribute(atv.Type) || containsAttribute(name.ExtraNames, atv.Type) {
			continue
		}
		name.ExtraNames = append(name.ExtraNames, atv)
	}

	var out pkix.RDNSequence

	for _, rdn := range name.ToRDNSequence() {
		converted := make([]pkix.AttributeTypeAndValue, 0, len(rdn))
		for _, atv := range rdn {
			value, ok := atv.Value.(string)
			if !ok {
				converted = append(converted, atv)
				continue
			}

			tag := asn1.TagPrintableString
			switch {
			case atv.Type.Equal(oidEmailAddress):
				tag = asn1.TagIA5String
			case !isPrintableString(value):
				tag = asn1.TagUTF8String
			}

			converted = append(converted, pkix.AttributeTypeAndValue{
				Type: atv.Type,
				Value: asn1.RawValue{
					Tag:   tag,
					Bytes: []byte(value),
				},
			})
		}
		out = append(out, converted)
	}

	der, err := asn1.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subject: %w", err)
	}

	return der, nil
}

// isStandardAttribute reports whether ToRDNSequence already emits the
// attribute from the name's typed fields.
func isStandardAttribute(oid asn1.ObjectIdentifier) bool {
	if len(oid) != 4 || oid[0] != 2 || oid[1] != 5 || oid[2] != 4 {
		return false
	}
	switch oid[3] {
	case 3, 5, 6, 7, 8, 9, 10, 11, 17:
		// CN, SERIALNUMBER, C, L, ST, STREET, O, OU, POSTALCODE
		return true
	}
	return false
}

func containsAttribute(attrs []pkix.AttributeTypeAndValue, oid asn1.ObjectIdentifier) bool {
	for _, atv := range attrs {
		if atv.Type.Equal(oid) {
			return true
		}
	}
	return false
}

// isPrintableString reports whether s only contains characters legal in an
// ASN.1 PrintableString.
func isPrintableString(s string) bool {
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z':
		case 'A' <= r && r <= 'Z':
		case '0' <= r && r <= '9':
		case r == ' ' || r == '\'' || r == '(' || r == ')' || r == '+' ||
			r == ',' || r == '-' || r == '.' || r == '/' || r == ':' ||
			r == '=' || r == '?':
		default:
			return false
		}
	}
	return true
}
