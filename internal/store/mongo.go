package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection       = "users"
	credentialsCollection = "credentials"
)

type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	creds  *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client: client,
		users:  db.Collection(usersCollection),
		creds:  db.Collection(credentialsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

// ensureIndexes creates the unique indexes the data model relies on:
// usernames are unique, credential ids are unique across all users, and the
// (user_id, credential_id) pair is unique.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.creds.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "credential_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "credential_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_handle", Value: 1}},
		},
	})
	return err
}

// userDoc is the persisted shape of a User. Mapping between documents and
// models is explicit so every read path goes through the same transform.
type userDoc struct {
	ID           string     `bson:"_id"`
	Username     string     `bson:"username"`
	DisplayName  string     `bson:"display_name"`
	PasswordHash []byte     `bson:"password_hash"`
	SkipEnroll   bool       `bson:"skip_authenticator_registration"`
	LastAccess   *time.Time `bson:"last_access,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

func toUserDoc(u *User) *userDoc {
	return &userDoc{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		PasswordHash: u.PasswordHash,
		SkipEnroll:   u.SkipAuthenticatorRegistration,
		LastAccess:   u.LastAccess,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func fromUserDoc(d *userDoc) *User {
	return &User{
		ID:                            d.ID,
		Username:                      d.Username,
		DisplayName:                   d.DisplayName,
		PasswordHash:                  d.PasswordHash,
		SkipAuthenticatorRegistration: d.SkipEnroll,
		LastAccess:                    d.LastAccess,
		CreatedAt:                     d.CreatedAt.UTC(),
		UpdatedAt:                     d.UpdatedAt.UTC(),
	}
}

type credentialDoc struct {
	ID                string     `bson:"_id"`
	UserID            string     `bson:"user_id"`
	CredentialID      []byte     `bson:"credential_id"`
	PublicKey         []byte     `bson:"public_key"`
	SignCount         uint32     `bson:"sign_count"`
	UserHandle        []byte     `bson:"user_handle"`
	UserVerified      bool       `bson:"user_verified"`
	AttestationFormat string     `bson:"attestation_format"`
	RawAttestation    []byte     `bson:"raw_attestation"`
	AAGUID            []byte     `bson:"aaguid,omitempty"`
	Name              string     `bson:"name"`
	Attachment        string     `bson:"attachment"`
	OS                string     `bson:"os,omitempty"`
	Device            string     `bson:"device,omitempty"`
	Transports        []string   `bson:"transports,omitempty"`
	LastAccess        *time.Time `bson:"last_access,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

func toCredentialDoc(c *Credential) *credentialDoc {
	return &credentialDoc{
		ID:                c.ID,
		UserID:            c.UserID,
		CredentialID:      c.CredentialID,
		PublicKey:         c.PublicKey,
		SignCount:         c.SignCount,
		UserHandle:        c.UserHandle,
		UserVerified:      c.UserVerified,
		AttestationFormat: c.AttestationFormat,
		RawAttestation:    c.RawAttestation,
		AAGUID:            c.AAGUID,
		Name:              c.Name,
		Attachment:        c.Metadata.Attachment,
		OS:                c.Metadata.OS,
		Device:            c.Metadata.Device,
		Transports:        c.Transports,
		LastAccess:        c.LastAccess,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func fromCredentialDoc(d *credentialDoc) *Credential {
	return &Credential{
		ID:                d.ID,
		UserID:            d.UserID,
		CredentialID:      d.CredentialID,
		PublicKey:         d.PublicKey,
		SignCount:         d.SignCount,
		UserHandle:        d.UserHandle,
		UserVerified:      d.UserVerified,
		AttestationFormat: d.AttestationFormat,
		RawAttestation:    d.RawAttestation,
		AAGUID:            d.AAGUID,
		Name:              d.Name,
		Metadata: CredentialMetadata{
			Attachment: d.Attachment,
			OS:         d.OS,
			Device:     d.Device,
		},
		Transports: d.Transports,
		LastAccess: d.LastAccess,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.users.InsertOne(ctx, toUserDoc(user))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateUsername
	}
	return err
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return fromUserDoc(&doc), nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.DisplayName != nil {
		set["display_name"] = *patch.DisplayName
	}
	if patch.SkipAuthenticatorRegistration != nil {
		set["skip_authenticator_registration"] = *patch.SkipAuthenticatorRegistration
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return fromUserDoc(&doc), nil
}

func (s *MongoStore) TouchUserAccess(ctx context.Context, id string, at time.Time) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_access": at.UTC(), "updated_at": at.UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *MongoStore) CreateCredential(ctx context.Context, cred *Credential) error {
	_, err := s.creds.InsertOne(ctx, toCredentialDoc(cred))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateCredential
	}
	return err
}

func (s *MongoStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	return s.findCredential(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	return s.findCredential(ctx, bson.M{"credential_id": credentialID})
}

func (s *MongoStore) GetCredentialByFingerprint(ctx context.Context, userID string, meta CredentialMetadata) (*Credential, error) {
	return s.findCredential(ctx, bson.M{
		"user_id":    userID,
		"attachment": meta.Attachment,
		"os":         meta.OS,
		"device":     meta.Device,
	})
}

func (s *MongoStore) findCredential(ctx context.Context, filter bson.M) (*Credential, error) {
	var doc credentialDoc
	if err := s.creds.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return fromCredentialDoc(&doc), nil
}

func (s *MongoStore) GetCredentialsByUserHandle(ctx context.Context, handle []byte) ([]Credential, error) {
	return s.listCredentials(ctx, bson.M{"user_handle": handle})
}

func (s *MongoStore) GetCredentialsByUser(ctx context.Context, userID, attachment string) ([]Credential, error) {
	filter := bson.M{"user_id": userID}
	if attachment != "" {
		filter["attachment"] = attachment
	}
	return s.listCredentials(ctx, filter)
}

func (s *MongoStore) listCredentials(ctx context.Context, filter bson.M) ([]Credential, error) {
	cursor, err := s.creds.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var creds []Credential
	for cursor.Next(ctx) {
		var doc credentialDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		creds = append(creds, *fromCredentialDoc(&doc))
	}
	return creds, cursor.Err()
}

func (s *MongoStore) UpdateCredentialName(ctx context.Context, id, ownerID, name string) (*Credential, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc credentialDoc
	err := s.creds.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user_id": ownerID},
		bson.M{"$set": bson.M{"name": name, "updated_at": time.Now().UTC()}},
		opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return fromCredentialDoc(&doc), nil
}

func (s *MongoStore) UpdateCredentialAfterAssertion(ctx context.Context, id string, signCount uint32, at time.Time) error {
	res, err := s.creds.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"sign_count":  signCount,
			"last_access": at.UTC(),
			"updated_at":  at.UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *MongoStore) DeleteCredential(ctx context.Context, id, ownerID string) error {
	res, err := s.creds.DeleteOne(ctx, bson.M{"_id": id, "user_id": ownerID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
