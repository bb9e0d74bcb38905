// Package rowsec turns entity privileges into SQL row filters.
//
// An EntityPrivilege target names an entity and a constraint over its
// properties:
//
//	privilegeTargets:
//	  EntityPrivilege:
//	    'Acme.Docs:OthersDrafts':
//	      matcher:
//	        entity: Document
//	        constraint:
//	          and:
//	            - property: status
//	              operator: equals
//	              operand: draft
//	            - not:
//	                property: owner
//	                operator: equals
//	                operand: context.securityContext.account
//
// Every target that the current roles do not GRANT hides the rows its
// constraint matches. The Generator renders constraints into a Fragment with
// positional $n placeholders; the Filter combines the fragments of all
// applicable targets.
package rowsec
